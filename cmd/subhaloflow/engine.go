package main

import (
	"context"
	"sort"

	"github.com/Noofbiz/subhaloflow/flow"
)

type trainFunc func(ctx context.Context, f *flow.Flow, ds flow.Dataset, hooks ...flow.EpochHook) ([]flow.EpochReport, error)

// engines lists the available trainers. engine_gomlx.go adds "gomlx".
var engines = map[string]trainFunc{
	"native": flow.Train,
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for n := range engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
