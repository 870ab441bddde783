package watcher

import "strings"

// findLatestErrorAndStacktrace scans log lines in reverse (most recent
// first) for the last line containing "Error:", then continues
// collecting lines in reverse until a line containing "Traceback (most
// recent call last):" is found (inclusive), reversing the collected
// segment back to natural order. If no "Error:" line is found, the last
// log line is returned as the error line with an empty stacktrace.
func findLatestErrorAndStacktrace(logs string) (errorLine, stacktrace string) {
	lines := strings.Split(strings.TrimRight(logs, "\n"), "\n")
	reversed := make([]string, len(lines))
	for i, l := range lines {
		reversed[len(lines)-1-i] = l
	}
	if len(reversed) == 0 {
		return "", ""
	}

	errorLine = reversed[0]
	var trace []string
	for _, line := range reversed {
		switch {
		case len(trace) == 0:
			if strings.Contains(line, "Error:") {
				errorLine = line
				trace = append(trace, line)
			}
		case strings.Contains(line, "Traceback (most recent call last):"):
			trace = append(trace, line)
			goto done
		default:
			trace = append(trace, line)
		}
	}
done:
	for i, j := 0, len(trace)-1; i < j; i, j = i+1, j-1 {
		trace[i], trace[j] = trace[j], trace[i]
	}

	var b strings.Builder
	for _, line := range trace {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return errorLine, b.String()
}
