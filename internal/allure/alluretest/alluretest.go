// Package alluretest reads raw Allure results back for assertions.
package alluretest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hanwenlu2016/ui-auto-new/internal/allure"
)

// ReadResults parses every *-result.json under dir, ordered by file name.
func ReadResults(dir string) ([]allure.Result, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*-result.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]allure.Result, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(m), err)
		}
		var r allure.Result
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(m), err)
		}
		out = append(out, r)
	}
	return out, nil
}
