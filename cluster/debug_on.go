//go:build streamsynth_debug

package cluster

const debugging = true

func assert(cond bool, message string) {
	if !cond {
		panic(message)
	}
}
