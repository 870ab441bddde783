package workload

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWorkload(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Workload Suite")
}

var _ = Describe("job naming", func() {
	It("names a simple job from the user number when set", func() {
		name := SimpleJobName("9999", "")
		Expect(name).To(HavePrefix("run-owner9999-requested-"))
		Expect(len(name)).To(BeNumerically("<=", maxJobNameLength))
	})

	It("names a simple job from the experiment number when set", func() {
		name := SimpleJobName("", "1234")
		Expect(name).To(HavePrefix("run-owner1234-requested-"))
	})

	It("never exceeds the max job name length", func() {
		name := SimpleJobName("12345678901234567890123456789012345678901234567890", "")
		Expect(len(name)).To(Equal(maxJobNameLength))
	})

	It("produces distinct names across calls", func() {
		a := RunJobName("MAR123.nxs")
		b := RunJobName("MAR123.nxs")
		Expect(a).NotTo(Equal(b))
	})

	It("lowercases and strips the extension from the filename stem", func() {
		name := RunJobName("MAR123.nxs")
		Expect(name).To(HavePrefix("run-mar123-"))
	})

	It("derives the stem from a full archive filepath", func() {
		name := RunJobName("/archive/mari/RBNumber/RB1234/raw/MAR123.nxs")
		Expect(name).To(HavePrefix("run-mar123-"))
	})
})
