// Package bindings multiplexes interfaces over one message pipe.
//
// A Router owns the pipe and reads it with a single watch. Each logical
// interface is an Endpoint: the primary endpoint has interface id 0 and
// associated endpoints get ids allocated by whichever side created them.
// Ids allocated by a Remote carry the namespace bit, so the two sides never
// collide.
//
// Remote and Receiver sit on top of an Endpoint:
//
//	remote := bindings.NewRemote()
//	remote.Bind(pipe0)
//
//	receiver := bindings.NewReceiver(bindings.WithVersion(1))
//	receiver.RegisterHandler(0, addParams, addResponse,
//		bindings.HandlerFunc(func(ctx context.Context, args []any) (map[string]any, error) {
//			return map[string]any{"sum": args[0].(int32) + args[1].(int32)}, nil
//		}))
//	receiver.Bind(pipe1)
//
//	resp, err := remote.SendMessage(0, addParams, addResponse, []any{int32(2), int32(3)}).Wait(ctx)
//
// Handlers run on the router's read goroutine, one at a time per pipe.
// Responses are matched by request id and may arrive in any order. A
// connection error rejects every pending request and fires at most once
// per endpoint.
//
// Two control protocols are built in. Pipe control (interface id
// 0xffffffff) announces that an associated endpoint was closed. Interface
// control answers QueryVersion and FlushForTesting and enforces
// RequireVersion.
package bindings
