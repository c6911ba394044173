package nneval

import (
	"testing"

	"github.com/matryer/is"
)

func TestRawCodecRoundTripsInferRequest(t *testing.T) {
	is := is.New(t)
	c := rawCodec{}
	req := &inferRequest{
		ModelName:    "chess-net",
		ModelVersion: "3",
		NetworkType:  int32(NetworkTypeSelfPlay),
		NumRows:      2,
		Planes:       []float32{0.1, 0.2, 0.3, 0.4},
		Scalars:      []float32{1.0, -1.0},
	}
	data, err := c.Marshal(req)
	is.NoErr(err)

	var out inferRequest
	is.NoErr(c.Unmarshal(data, &out))
	is.Equal(out.ModelName, req.ModelName)
	is.Equal(out.ModelVersion, req.ModelVersion)
	is.Equal(out.NetworkType, req.NetworkType)
	is.Equal(out.NumRows, req.NumRows)
	is.Equal(len(out.Planes), len(req.Planes))
	for i := range req.Planes {
		is.Equal(out.Planes[i], req.Planes[i])
	}
	is.Equal(len(out.Scalars), len(req.Scalars))
	for i := range req.Scalars {
		is.Equal(out.Scalars[i], req.Scalars[i])
	}
}

func TestRawCodecRoundTripsInferResponseWithUpdatedFlag(t *testing.T) {
	is := is.New(t)
	c := rawCodec{}
	resp := &inferResponse{
		Value:          []float32{0.5, 0.75},
		Policy:         []float32{0.1, 0.2, 0.3, 0.4},
		UpdatedNetwork: true,
	}
	data, err := c.Marshal(resp)
	is.NoErr(err)

	var out inferResponse
	is.NoErr(c.Unmarshal(data, &out))
	is.Equal(len(out.Value), len(resp.Value))
	for i := range resp.Value {
		is.Equal(out.Value[i], resp.Value[i])
	}
	is.True(out.UpdatedNetwork)
}

func TestRawCodecRoundTripsInferResponseWithoutUpdatedFlag(t *testing.T) {
	is := is.New(t)
	c := rawCodec{}
	resp := &inferResponse{Value: []float32{0.1}, Policy: []float32{0.9}}
	data, err := c.Marshal(resp)
	is.NoErr(err)

	var out inferResponse
	is.NoErr(c.Unmarshal(data, &out))
	is.True(!out.UpdatedNetwork)
}

func TestRawCodecNameMatchesRegisteredConstant(t *testing.T) {
	is := is.New(t)
	is.Equal(rawCodec{}.Name(), rawCodecName)
}

func TestRawCodecMarshalRejectsUnknownType(t *testing.T) {
	is := is.New(t)
	_, err := rawCodec{}.Marshal("not a wire message")
	is.True(err != nil)
}
