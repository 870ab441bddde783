package validation

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestValidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validation Suite")
}

type sample struct {
	Name string `validate:"required"`
	Age  int    `validate:"gte=0"`
}

var _ = Describe("Struct", func() {
	It("passes a valid struct", func() {
		Expect(Struct(sample{Name: "a", Age: 1})).NotTo(HaveOccurred())
	})

	It("fails a struct missing a required field", func() {
		err := Struct(sample{Age: 1})
		Expect(err).To(HaveOccurred())
	})

	It("fails a struct violating a numeric constraint", func() {
		err := Struct(sample{Name: "a", Age: -1})
		Expect(err).To(HaveOccurred())
	})
})
