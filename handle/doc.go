// Package handle provides the handle table behind in-process transports.
//
// A Table maps pipebind.Handle values to transport objects such as message
// pipe ends. Handle 0 is never issued. Freed slots are reused, so a handle
// is only meaningful while the object it names is alive.
//
//	t := handle.NewTable()
//	h, _ := t.Insert(handle.KindMessagePipe, end)
//	v, ok := t.GetTyped(h, handle.KindMessagePipe)
//	t.Remove(h)
//
// Observers receive created and removed events, which lets callers track
// handle leaks in tests.
package handle
