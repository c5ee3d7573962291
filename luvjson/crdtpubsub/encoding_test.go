package crdtpubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdtpatch"
)

func testPatch() *crdtpatch.Patch {
	id := common.LogicalTimestamp{SID: common.NewSessionID(), Counter: 1}
	patch := crdtpatch.NewPatch(id)
	patch.AddOperation(&crdtpatch.NewOperation{ID: id, NodeType: common.NodeTypeCon, Value: "value"})
	return patch
}

func TestEncoderDecoders(t *testing.T) {
	patch := testPatch()

	for _, format := range []EncodingFormat{EncodingFormatJSON, EncodingFormatBase64} {
		t.Run(string(format), func(t *testing.T) {
			ed, err := GetEncoderDecoder(format)
			require.NoError(t, err)

			data, err := ed.Encode(patch)
			require.NoError(t, err)

			decoded, err := DecodePatch(data, format)
			require.NoError(t, err)
			assert.Equal(t, patch.ID(), decoded.ID())
			assert.Equal(t, patch.Ops(), decoded.Ops())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := GetEncoderDecoder("binary")
	assert.Error(t, err)

	_, err = DecodePatch([]byte("{"), EncodingFormatJSON)
	assert.Error(t, err)

	_, err = DecodePatch([]byte("!!not base64!!"), EncodingFormatBase64)
	assert.Error(t, err)
}
