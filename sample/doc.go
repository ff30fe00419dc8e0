// Package sample maps audio files onto arena clusters.
//
// A [Sample] remembers which cluster (if any) holds each
// cluster-sized piece of its data; those handles are weak,
// the arena may steal any piece nobody holds a reason on.
// Consumers [Sample.Claim] the pieces they are about to read
// and [Sample.Release] them once the play-head has moved on.
//
// A [Cache] stores a repitched rendition of a sample in
// cache clusters, so repeated notes at the same pitch
// skip interpolation.
package sample
