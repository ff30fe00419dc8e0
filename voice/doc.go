// Package voice renders notes from streamed samples.
//
// A [Pool] owns a fixed set of voices. Each voice plays up to
// [MaxLayers] sample sources through an amplitude envelope;
// a source keeps reasons on the clusters around its play-head
// so they load ahead of time and are not stolen mid-note.
//
// Under load the pool sheds voices in priority order, see [Voice.Rating].
package voice
