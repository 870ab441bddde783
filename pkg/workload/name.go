package workload

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// maxJobNameLength bounds every generated job name, leaving room for the
// suffixes of the object names derived from it: the longest of those,
// "-archive-pv-smb" and "-ndximat-pv-smb", are 15 characters, so a
// derived name is at most 65 characters long.
const maxJobNameLength = 50

func truncateJobName(name string) string {
	if len(name) > maxJobNameLength {
		return name[:maxJobNameLength]
	}
	return name
}

func hexUUID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// SimpleJobName builds the job name for a simple-variant request, owned
// by exactly one of userNumber or experimentNumber.
func SimpleJobName(userNumber, experimentNumber string) string {
	owner := userNumber
	if owner == "" {
		owner = experimentNumber
	}
	name := fmt.Sprintf("run-owner%s-requested-%s", strings.ToLower(owner), hexUUID())
	return truncateJobName(name)
}

// RunJobName builds the job name for rerun and autoreduction requests,
// both of which are named from a run's filename stem.
func RunJobName(filenameOrStem string) string {
	stem := stemOf(filenameOrStem)
	name := fmt.Sprintf("run-%s-%s", strings.ToLower(stem), hexUUID())
	return truncateJobName(name)
}

// FilenameStem returns the base name of a path with its extension
// removed, mirroring Python's pathlib.Path.stem used on the inbound
// filepath. Exported so callers that also need the bare stem (e.g. to
// populate a script-acquisition request) don't recompute it.
func FilenameStem(p string) string {
	return stemOf(p)
}

func stemOf(p string) string {
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
