package bindings

import (
	"github.com/wippyai/pipebind/codec"
)

// Reserved ordinals of the control protocols.
const (
	// RunMessageID is the interface control request that queries or flushes
	// an interface.
	RunMessageID uint32 = 0xffffffff
	// RunOrClosePipeMessageID is the control message that may close the pipe.
	// On the reserved interface id it carries pipe control events; on a
	// regular interface id it carries interface control requirements.
	RunOrClosePipeMessageID uint32 = 0xfffffffe
)

// Tags of the control unions.
const (
	tagPeerAssociatedEndpointClosed = "peer_associated_endpoint_closed_event"
	tagQueryVersion                 = "query_version"
	tagFlushForTesting              = "flush_for_testing"
	tagQueryVersionResult           = "query_version_result"
	tagRequireVersion               = "require_version"
)

// DisconnectReason optionally accompanies an associated endpoint closure.
type DisconnectReason struct {
	Description  string
	CustomReason uint32
}

func mustPack(name string, defs []codec.FieldDef) *codec.StructSpec {
	spec, err := codec.PackStruct(name, defs)
	if err != nil {
		panic(err)
	}
	return spec
}

// Pipe control.
var (
	disconnectReasonSpec = mustPack("DisconnectReason", []codec.FieldDef{
		{Name: "custom_reason", Type: codec.Uint32},
		{Name: "description", Type: codec.String},
	})
	peerAssociatedEndpointClosedEventSpec = mustPack("PeerAssociatedEndpointClosedEvent", []codec.FieldDef{
		{Name: "id", Type: codec.Uint32},
		{Name: "disconnect_reason", Type: disconnectReasonSpec, Nullable: true},
	})
	pipeControlInputSpec = codec.NewUnionSpec("RunOrClosePipeInput", map[string]codec.UnionField{
		tagPeerAssociatedEndpointClosed: {Ordinal: 0, Type: peerAssociatedEndpointClosedEventSpec},
	})
	pipeControlParamsSpec = mustPack("RunOrClosePipeMessageParams", []codec.FieldDef{
		{Name: "input", Type: pipeControlInputSpec},
	})
)

// Interface control.
var (
	queryVersionSpec       = mustPack("QueryVersion", nil)
	flushForTestingSpec    = mustPack("FlushForTesting", nil)
	queryVersionResultSpec = mustPack("QueryVersionResult", []codec.FieldDef{
		{Name: "version", Type: codec.Uint32},
	})
	requireVersionSpec = mustPack("RequireVersion", []codec.FieldDef{
		{Name: "version", Type: codec.Uint32},
	})

	runInputSpec = codec.NewUnionSpec("RunInput", map[string]codec.UnionField{
		tagQueryVersion:    {Ordinal: 0, Type: queryVersionSpec},
		tagFlushForTesting: {Ordinal: 1, Type: flushForTestingSpec},
	})
	runOutputSpec = codec.NewUnionSpec("RunOutput", map[string]codec.UnionField{
		tagQueryVersionResult: {Ordinal: 0, Type: queryVersionResultSpec},
	})
	runParamsSpec = mustPack("RunMessageParams", []codec.FieldDef{
		{Name: "input", Type: runInputSpec},
	})
	runResponseParamsSpec = mustPack("RunResponseMessageParams", []codec.FieldDef{
		{Name: "output", Type: runOutputSpec, Nullable: true},
	})

	interfaceControlInputSpec = codec.NewUnionSpec("RunOrClosePipeInput", map[string]codec.UnionField{
		tagRequireVersion: {Ordinal: 0, Type: requireVersionSpec},
	})
	runOrClosePipeParamsSpec = mustPack("RunOrClosePipeMessageParams", []codec.FieldDef{
		{Name: "input", Type: interfaceControlInputSpec},
	})
)
