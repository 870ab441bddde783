package registry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Registry Suite")
}

var _ = Describe("Resolve", func() {
	It("passes through an image that already carries a digest", func() {
		r := New(zap.NewNop())
		image := "ghcr.io/fiaisis/mantid@sha256:" + strings.Repeat("a", 64)
		Expect(r.Resolve(image)).To(Equal(image))
	})

	It("pins a tagged image to the sha256 of its manifest body", func() {
		server := httptest.NewServer(ggcrregistry.New())
		defer server.Close()
		host := strings.TrimPrefix(server.URL, "http://")

		ref, err := name.ParseReference(host + "/fiaisis/mantid:6.9.1")
		Expect(err).NotTo(HaveOccurred())

		img, err := random.Image(1024, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(remote.Write(ref, img)).To(Succeed())

		r := New(zap.NewNop())
		pinned := r.Resolve(host + "/fiaisis/mantid:6.9.1")
		Expect(pinned).To(HavePrefix(host + "/fiaisis/mantid@sha256:"))
	})

	It("falls back to the original reference when the image cannot be reached", func() {
		r := New(zap.NewNop())
		image := "127.0.0.1:1/does/not/exist:latest"
		Expect(r.Resolve(image)).To(Equal(image))
	})

	It("falls back to the original reference on an unparsable image string", func() {
		r := New(zap.NewNop())
		image := "not a valid reference!!"
		Expect(r.Resolve(image)).To(Equal(image))
	})
})
