package workload

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/isisneutron/jobcontroller/internal/apperrors"
)

const (
	defaultLocalCephRoot = "/ceph"
	defaultMountPath     = "/isis/instrument"
)

// DefaultLocalCephRoot and DefaultMountPath are exported so callers that
// need to pass the real roots explicitly to the *In functions (e.g. to
// override just one of the two) don't have to hardcode them again.
const (
	DefaultLocalCephRoot = defaultLocalCephRoot
	DefaultMountPath     = defaultMountPath
)

// relativeToRoot strips the local ceph mount root from p, mirroring
// Python's Path.relative_to("/ceph") used before reattaching the
// in-container mount_path prefix.
func relativeToRoot(p, root string) string {
	rel := strings.TrimPrefix(p, root)
	return strings.TrimPrefix(rel, string(os.PathSeparator))
}

// AutoreductionCephPathIn returns the canonical output directory for a
// given instrument/experiment pair under localCephRoot, before existence
// is ensured.
func AutoreductionCephPathIn(localCephRoot, instrument, rbNumber string) string {
	return filepath.Join(localCephRoot, instrument, "RBNumber", "RB"+rbNumber, "autoreduced")
}

// AutoreductionCephPath is AutoreductionCephPathIn against the real
// cluster-local ceph mount.
func AutoreductionCephPath(instrument, rbNumber string) string {
	return AutoreductionCephPathIn(defaultLocalCephRoot, instrument, rbNumber)
}

// EnsureAutoreductionCephPath makes sure cephPath exists on the locally
// mounted ceph filesystem, falling back to an "unknown" RBNumber folder
// when the experiment's own RBNumber folder was never created, and
// returns the path that was actually ensured (which may differ from the
// input when the fallback kicked in).
func EnsureAutoreductionCephPath(cephPath string) (string, error) {
	if _, err := os.Stat(cephPath); err == nil {
		return cephPath, nil
	}

	rbFolder := filepath.Dir(cephPath)
	if _, err := os.Stat(rbFolder); err != nil {
		rbFolder = filepath.Join(filepath.Dir(rbFolder), "unknown")
		cephPath = filepath.Join(rbFolder, filepath.Base(cephPath))
	}

	if _, err := os.Stat(cephPath); err != nil {
		if mkErr := os.MkdirAll(cephPath, 0o755); mkErr != nil {
			return "", apperrors.Wrapf(mkErr, apperrors.TypeProvisioning, "failed to create ceph path %s", cephPath)
		}
	}
	return cephPath, nil
}

// AutoreductionMountPathIn is AutoreductionMountPath parameterized over
// the local ceph root and the in-container mount path, for testing
// without touching the real cluster-local ceph mount.
func AutoreductionMountPathIn(localCephRoot, mountPath, instrument, rbNumber string) (string, error) {
	cephPath := AutoreductionCephPathIn(localCephRoot, instrument, rbNumber)
	ensured, err := EnsureAutoreductionCephPath(cephPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(mountPath, relativeToRoot(ensured, localCephRoot)), nil
}

// AutoreductionMountPath computes the in-container mount path used by
// both the rerun and autoreduction variants, ensuring the backing ceph
// directory exists first.
func AutoreductionMountPath(instrument, rbNumber string) (string, error) {
	return AutoreductionMountPathIn(defaultLocalCephRoot, defaultMountPath, instrument, rbNumber)
}

// SimpleMountPathIn is SimpleMountPath parameterized over the local ceph
// root and the in-container mount path.
func SimpleMountPathIn(localCephRoot, mountPath, userNumber, experimentNumber string) (string, error) {
	var cephPath string
	switch {
	case userNumber != "" && experimentNumber == "":
		cephPath = filepath.Join(localCephRoot, "GENERIC", "autoreduce", "UserNumbers", userNumber)
	case experimentNumber != "" && userNumber == "":
		cephPath = filepath.Join(localCephRoot, "GENERIC", "autoreduce", "ExperimentNumbers", experimentNumber)
	default:
		return "", apperrors.New(apperrors.TypeValidation,
			"both user_number and experiment_number cannot be defined, but one must be")
	}

	if _, err := os.Stat(cephPath); err != nil {
		if mkErr := os.MkdirAll(cephPath, 0o755); mkErr != nil {
			return "", apperrors.Wrapf(mkErr, apperrors.TypeProvisioning, "failed to create ceph path %s", cephPath)
		}
	}
	return filepath.Join(mountPath, relativeToRoot(cephPath, localCephRoot)), nil
}

// SimpleMountPath computes the in-container output mount path for a
// simple-variant request, owned by exactly one of userNumber or
// experimentNumber, creating the backing ceph directory if needed.
func SimpleMountPath(userNumber, experimentNumber string) (string, error) {
	return SimpleMountPathIn(defaultLocalCephRoot, defaultMountPath, userNumber, experimentNumber)
}
