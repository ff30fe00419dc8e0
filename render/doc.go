// Package render drives the per-window audio pass:
// it sizes each window from the transport's free space,
// sheds load when passes arrive late, lines windows up with
// musical clock ticks, renders the mix graph, applies master
// processing, and hands dithered frames to the transport.
//
// Everything here runs in the render context and never blocks;
// [Scheduler.Routine] is infallible toward its caller.
package render
