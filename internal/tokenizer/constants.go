package tokenizer

import "strings"

// ModelConstants are the per-model overheads used by the estimator.
type ModelConstants struct {
	FuncInit int
	PropInit int
	PropKey  int
	EnumInit int
	EnumItem int
	FuncEnd  int
	IsGPT    bool
}

// ConstantsFor returns the overheads for a model id. The two legacy GPT ids
// carry a larger per-function overhead.
func ConstantsFor(modelID string) ModelConstants {
	c := ModelConstants{
		FuncInit: 7,
		PropInit: 3,
		PropKey:  3,
		EnumInit: -3,
		EnumItem: 3,
		FuncEnd:  12,
		IsGPT:    strings.HasPrefix(modelID, "gpt-"),
	}
	if modelID == "gpt-3.5-turbo" || modelID == "gpt-4" {
		c.FuncInit = 10
		c.IsGPT = true
	}
	return c
}
