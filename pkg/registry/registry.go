// Package registry resolves a container image reference to a digest-pinned
// reference by fetching its manifest from the registry, mirroring the
// original's ghcr.io-token-then-manifest round trip but through
// google/go-containerregistry instead of hand-rolled HTTP calls.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/pkg/metrics"
)

// manifestFetchTimeout bounds each registry round trip made by Resolve.
const manifestFetchTimeout = 5 * time.Second

// Resolver resolves image references to digest-pinned references.
type Resolver struct {
	log *zap.Logger
}

// New builds a Resolver.
func New(log *zap.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve returns image pinned to a @sha256 digest, computed from the raw
// manifest bytes served by the registry (not the registry's
// Docker-Content-Digest response header, which is trusted less here since
// the original computed its own hash from the manifest body). On any
// failure — parse error, auth failure, network error — it logs and falls
// back to returning image unchanged, matching the original's
// broad-except-and-return-input behaviour.
func (r *Resolver) Resolve(image string) string {
	if strings.Contains(image, "sha256:") {
		metrics.RecordRegistryResolution("already_pinned")
		return image
	}

	ref, err := name.ParseReference(image)
	if err != nil {
		r.log.Warn("could not parse image reference, using as-is", zap.String("image", image), zap.Error(err))
		metrics.RecordRegistryResolution("fallback")
		return image
	}

	ctx, cancel := context.WithTimeout(context.Background(), manifestFetchTimeout)
	defer cancel()
	desc, err := remote.Get(ref, remote.WithAuthFromKeychain(authn.DefaultKeychain), remote.WithContext(ctx))
	if err != nil {
		r.log.Warn("could not fetch image manifest, using as-is", zap.String("image", image), zap.Error(err))
		metrics.RecordRegistryResolution("fallback")
		return image
	}

	sum := sha256.Sum256(desc.Manifest)
	digest := hex.EncodeToString(sum[:])

	repo := ref.Context()
	pinned := fmt.Sprintf("%s@sha256:%s", repo.Name(), digest)
	r.log.Info("resolved image digest", zap.String("image", image), zap.String("pinned", pinned))
	metrics.RecordRegistryResolution("resolved")
	return pinned
}
