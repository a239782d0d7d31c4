// Package pipebind implements multiplexed, versioned interface bindings over
// message pipes.
//
// A single physical pipe carries any number of logical channels. Each channel
// is an Endpoint addressed by an interface id; id 0 is the primary endpoint and
// associated endpoints are allocated on demand when one side passes an
// endpoint inside a message.
//
// # Architecture Overview
//
//	pipebind/            Root package with the Pipe transport boundary and Handle
//	├── codec/           Wire format, descriptors, Encoder/Decoder, Message
//	├── bindings/        Endpoint, Router, Remote, Receiver, control protocols
//	├── schema/          Descriptor construction from WIT type definitions
//	├── msgpipe/         In-process message pipes with handle transfer
//	├── netpipe/         Length-prefixed frames over net.Conn
//	├── gateway/         JSON-RPC 2.0 bridge onto a bound Remote
//	├── handle/          Handle table backing msgpipe
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
//	sys := msgpipe.NewSystem()
//	h0, h1, _ := sys.CreateMessagePipe()
//	p0, _ := sys.Pipe(h0)
//	p1, _ := sys.Pipe(h1)
//
//	recv := bindings.NewReceiver()
//	recv.RegisterHandler(0, echoParams, echoResponse,
//		bindings.HandlerFunc(func(ctx context.Context, args []any) (map[string]any, error) {
//			return map[string]any{"text": args[0]}, nil
//		}))
//	recv.Bind(p1)
//
//	remote := bindings.NewRemote()
//	remote.Bind(p0)
//	resp, err := remote.SendMessage(0, echoParams, echoResponse, []any{"hi"}).Wait(ctx)
//
// # Wire Format
//
// All integers are little-endian. A message is a header (24, 32 or 48 bytes
// for versions 0, 1 and 2), an 8-byte aligned payload struct and, for version
// 2, a trailing table of associated interface ids. Pointers are relative
// 64-bit offsets from the pointer's own position.
package pipebind
