package nneval

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// Remote is the gRPC-batched network evaluator (the spec's "remote worker"
// collaborator), grounded on the teacher's Triton client: connect once, send
// a batch of stacked plane/scalar tensors as raw bytes, get back a stacked
// value+policy tensor. Unlike the teacher's client, which talks to a
// protoc-generated Triton stub, this one defines its own minimal wire
// message and registers a raw byte codec for it (see rawCodec below),
// since this engine doesn't carry a protobuf schema compiler step; the
// framing is otherwise the same raw-float-bytes-over-gRPC shape as
// triton/client.go's float32ToByte/byteToFloat32.
type Remote struct {
	conn         *grpc.ClientConn
	modelName    string
	modelVersion string
	shape        PlaneShape
	policySize   int
	retries      uint
}

// NewRemote dials serverAddr (insecure, matching the teacher's client —
// production deployments are expected to run the remote worker behind a
// private network or a sidecar that terminates TLS) and returns an
// Evaluator bound to shape/policySize.
func NewRemote(serverAddr, modelName, modelVersion string, shape PlaneShape, policySize int, retries uint) (*Remote, error) {
	log.Info().Str("server", serverAddr).Str("model", modelName).Str("version", modelVersion).
		Msg("nneval-remote-connecting")
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)))
	if err != nil {
		return nil, fmt.Errorf("nneval: dial %s: %w", serverAddr, err)
	}
	return &Remote{conn: conn, modelName: modelName, modelVersion: modelVersion, shape: shape, policySize: policySize, retries: retries}, nil
}

func (r *Remote) Shape() PlaneShape { return r.shape }
func (r *Remote) PolicySize() int   { return r.policySize }

func (r *Remote) Close() error { return r.conn.Close() }

func (r *Remote) PredictBatch(ctx context.Context, networkType NetworkType, rows [][]float32) ([]Result, Status, error) {
	if len(rows) == 0 {
		return nil, 0, nil
	}
	planeFloats := r.shape.PlaneFloats()
	planes := make([]float32, 0, len(rows)*planeFloats)
	scalars := make([]float32, 0, len(rows)*r.shape.ScalarCount)
	for _, row := range rows {
		if len(row) != r.shape.RowFloats() {
			return nil, 0, fmt.Errorf("nneval: row has %d floats, want %d", len(row), r.shape.RowFloats())
		}
		planes = append(planes, row[:planeFloats]...)
		scalars = append(scalars, row[planeFloats:]...)
	}

	req := &inferRequest{
		ModelName:    r.modelName,
		ModelVersion: r.modelVersion,
		NetworkType:  int32(networkType),
		NumRows:      int32(len(rows)),
		Planes:       planes,
		Scalars:      scalars,
	}

	var resp *inferResponse
	err := retry.Do(
		func() error {
			var callErr error
			resp, callErr = r.invoke(ctx, req)
			return callErr
		},
		retry.Context(ctx),
		retry.Attempts(r.retries+1),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Uint("attempt", n).Err(err).Msg("nneval-remote-retry")
		}),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("nneval: remote infer: %w", err)
	}

	results := make([]Result, len(rows))
	for i := range rows {
		p := make([]float32, r.policySize)
		copy(p, resp.Policy[i*r.policySize:(i+1)*r.policySize])
		results[i] = Result{Value: resp.Value[i], Policy: p}
	}

	status := Status(0)
	if resp.UpdatedNetwork {
		status |= StatusUpdatedNetwork
	}
	return results, status, nil
}

func (r *Remote) invoke(ctx context.Context, req *inferRequest) (*inferResponse, error) {
	resp := new(inferResponse)
	err := r.conn.Invoke(ctx, "/chessengine.InferenceService/PredictBatch", req, resp)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
			return nil, fmt.Errorf("nneval: remote worker unavailable: %w", err)
		}
		return nil, err
	}
	return resp, nil
}

func (r *Remote) WarmUp(ctx context.Context, batchSizes []int) error {
	for _, n := range batchSizes {
		if n <= 0 {
			continue
		}
		rows := make([][]float32, n)
		for i := range rows {
			rows[i] = make([]float32, r.shape.RowFloats())
		}
		if _, _, err := r.PredictBatch(ctx, NetworkTypeSearch, rows); err != nil {
			return fmt.Errorf("nneval: warm up remote batch %d: %w", n, err)
		}
	}
	return nil
}

// --- wire messages and raw codec -------------------------------------------

type inferRequest struct {
	ModelName    string
	ModelVersion string
	NetworkType  int32
	NumRows      int32
	Planes       []float32
	Scalars      []float32
}

type inferResponse struct {
	Value          []float32
	Policy         []float32
	UpdatedNetwork bool
}

const rawCodecName = "chessengine-raw"

// rawCodec is a minimal length-prefixed binary encoding.Codec, registered
// globally so grpc.ClientConn.Invoke can marshal inferRequest/inferResponse
// without a protoc-generated message type. Each call pays the cost of a
// small framing header per field; field order is fixed by the struct
// definitions above.
type rawCodec struct{}

func init() { encoding.RegisterCodec(rawCodec{}) }

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *inferRequest:
		var buf []byte
		buf = appendString(buf, m.ModelName)
		buf = appendString(buf, m.ModelVersion)
		buf = appendInt32(buf, m.NetworkType)
		buf = appendInt32(buf, m.NumRows)
		buf = appendFloats(buf, m.Planes)
		buf = appendFloats(buf, m.Scalars)
		return buf, nil
	case *inferResponse:
		var buf []byte
		buf = appendFloats(buf, m.Value)
		buf = appendFloats(buf, m.Policy)
		flag := byte(0)
		if m.UpdatedNetwork {
			flag = 1
		}
		buf = append(buf, flag)
		return buf, nil
	default:
		return nil, fmt.Errorf("nneval: rawCodec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *inferRequest:
		var rest []byte
		m.ModelName, rest = readString(data)
		m.ModelVersion, rest = readString(rest)
		m.NetworkType, rest = readInt32(rest)
		m.NumRows, rest = readInt32(rest)
		m.Planes, rest = readFloats(rest)
		m.Scalars, _ = readFloats(rest)
		return nil
	case *inferResponse:
		var rest []byte
		m.Value, rest = readFloats(data)
		m.Policy, rest = readFloats(rest)
		if len(rest) > 0 {
			m.UpdatedNetwork = rest[0] == 1
		}
		return nil
	default:
		return fmt.Errorf("nneval: rawCodec cannot unmarshal into %T", v)
	}
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt32(buf, int32(len(s)))
	return append(buf, s...)
}

func readString(b []byte) (string, []byte) {
	n, rest := readInt32(b)
	return string(rest[:n]), rest[n:]
}

func appendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func readInt32(b []byte) (int32, []byte) {
	return int32(binary.LittleEndian.Uint32(b[:4])), b[4:]
}

func appendFloats(buf []byte, f []float32) []byte {
	buf = appendInt32(buf, int32(len(f)))
	for _, v := range f {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func readFloats(b []byte) ([]float32, []byte) {
	n, rest := readInt32(b)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
	}
	return out, rest
}
