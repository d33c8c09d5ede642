package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type ciResult struct {
	Check     string   `json:"check"`
	Passed    bool     `json:"passed"`
	Details   []string `json:"details,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// PrintCIResult emits one machine-readable JSON line per check so CI jobs
// can parse tool outcomes without scraping terminal output.
func PrintCIResult(passed bool, check string, details []string, err error) {
	res := ciResult{
		Check:     check,
		Passed:    passed,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		res.Error = err.Error()
	}
	encoded, encErr := json.Marshal(res)
	if encErr != nil {
		fmt.Fprintf(os.Stderr, "ci result encode failed: %v\n", encErr)
		return
	}
	fmt.Println(string(encoded))
}
