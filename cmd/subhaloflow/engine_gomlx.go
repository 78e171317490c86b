//go:build gomlx

package main

import "github.com/Noofbiz/subhaloflow/flow"

func init() {
	engines["gomlx"] = flow.TrainGomlx
}
