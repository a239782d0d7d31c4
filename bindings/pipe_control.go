package bindings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
)

// notifyPeerClosed tells the other side that the associated endpoint id
// is gone.
func (r *Router) notifyPeerClosed(id uint32, reason *DisconnectReason) {
	var dr any
	if reason != nil {
		dr = map[string]any{
			"custom_reason": reason.CustomReason,
			"description":   reason.Description,
		}
	}
	params := map[string]any{
		"input": codec.Union{
			Tag: tagPeerAssociatedEndpointClosed,
			Value: map[string]any{
				"id":                id,
				"disconnect_reason": dr,
			},
		},
	}
	msg, err := codec.NewMessage(nil, codec.InvalidInterfaceID, 0, RunOrClosePipeMessageID, 0, pipeControlParamsSpec, params)
	if err != nil {
		r.log.Error("encode pipe control message", zap.Error(err))
		return
	}
	if err := r.write(msg.Bytes(), msg.Handles()); err != nil {
		r.log.Debug("pipe control message not sent", zap.Uint32("interface_id", id), zap.Error(err))
	}
}

// handlePipeControl applies a pipe control message. Errors are fatal to the
// router.
func (r *Router) handlePipeControl(msg *codec.ReceivedMessage) error {
	if msg.Ordinal != RunOrClosePipeMessageID {
		return errors.Protocol(errors.PhaseRoute, fmt.Sprintf("unknown pipe control ordinal %#x", msg.Ordinal), nil)
	}
	params, err := msg.DecodePayload(nil, pipeControlParamsSpec)
	if err != nil {
		return errors.Protocol(errors.PhaseRoute, "malformed pipe control message", err)
	}
	input, ok := params["input"].(codec.Union)
	if !ok || input.Tag != tagPeerAssociatedEndpointClosed {
		return errors.Protocol(errors.PhaseRoute, "unexpected pipe control input", nil)
	}
	event, _ := input.Value.(map[string]any)
	id, _ := event["id"].(uint32)

	reason := "peer associated endpoint closed"
	if dr, ok := event["disconnect_reason"].(map[string]any); ok {
		reason = fmt.Sprintf("%s (reason %d: %s)", reason, dr["custom_reason"], dr["description"])
	}

	ep := r.lookup(id)
	if ep == nil || !r.removeEndpoint(id, ep) {
		r.log.Debug("peer closed unknown associated endpoint", zap.Uint32("interface_id", id))
		return nil
	}
	r.log.Debug("peer closed associated endpoint", zap.Uint32("interface_id", id))
	ep.mu.Lock()
	ep.closed = true
	ep.queued = nil
	ep.mu.Unlock()
	ep.notifyError(reason)
	return nil
}
