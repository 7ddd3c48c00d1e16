package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Finding describes a line that failed verification.
type Finding struct {
	Line int
	Err  error
}

// ScanResult summarises a per-entry verification pass over a trail.
type ScanResult struct {
	Records  int
	Valid    int
	Findings []Finding
}

func (r ScanResult) OK() bool { return len(r.Findings) == 0 }

// Scan verifies every line read from r. It checks entries one at a time;
// it does not establish that the trail is complete.
func Scan(r io.Reader, secret []byte) (ScanResult, error) {
	var res ScanResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		res.Records++

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.Findings = append(res.Findings, Finding{Line: line, Err: fmt.Errorf("decode: %w", err)})
			continue
		}
		if err := Verify(secret, rec); err != nil {
			res.Findings = append(res.Findings, Finding{Line: line, Err: err})
			continue
		}
		res.Valid++
	}
	if err := sc.Err(); err != nil {
		return res, err
	}
	return res, nil
}
