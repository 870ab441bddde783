package workload

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ceph mount paths", func() {
	var root, mountPath string

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		mountPath = "/isis/instrument"
	})

	Context("autoreduction", func() {
		It("creates the RBNumber directory when it does not exist", func() {
			mounted, err := AutoreductionMountPathIn(root, mountPath, "mari", "1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(mounted).To(Equal(filepath.Join(mountPath, "mari", "RBNumber", "unknown", "autoreduced")))

			info, statErr := os.Stat(filepath.Join(root, "mari", "RBNumber", "unknown", "autoreduced"))
			Expect(statErr).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("falls back to an unknown RBNumber folder when the RB folder never existed", func() {
			Expect(os.MkdirAll(filepath.Join(root, "mari"), 0o755)).To(Succeed())

			mounted, err := AutoreductionMountPathIn(root, mountPath, "mari", "9999")
			Expect(err).NotTo(HaveOccurred())
			Expect(mounted).To(Equal(filepath.Join(mountPath, "mari", "RBNumber", "unknown", "autoreduced")))
		})

		It("reuses an existing path without recreating it", func() {
			existing := filepath.Join(root, "mari", "RBNumber", "RB1234", "autoreduced")
			Expect(os.MkdirAll(existing, 0o755)).To(Succeed())

			mounted, err := AutoreductionMountPathIn(root, mountPath, "mari", "1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(mounted).To(Equal(filepath.Join(mountPath, "mari", "RBNumber", "RB1234", "autoreduced")))
		})
	})

	Context("simple", func() {
		It("mounts under UserNumbers when only user_number is set", func() {
			mounted, err := SimpleMountPathIn(root, mountPath, "9999", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(mounted).To(Equal(filepath.Join(mountPath, "GENERIC", "autoreduce", "UserNumbers", "9999")))
		})

		It("mounts under ExperimentNumbers when only experiment_number is set", func() {
			mounted, err := SimpleMountPathIn(root, mountPath, "", "1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(mounted).To(Equal(filepath.Join(mountPath, "GENERIC", "autoreduce", "ExperimentNumbers", "1234")))
		})

		It("errors when both or neither are set", func() {
			_, err := SimpleMountPathIn(root, mountPath, "9999", "1234")
			Expect(err).To(HaveOccurred())

			_, err = SimpleMountPathIn(root, mountPath, "", "")
			Expect(err).To(HaveOccurred())
		})
	})
})
