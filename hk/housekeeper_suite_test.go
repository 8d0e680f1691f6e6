package hk_test

import (
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"centralnet/hk"
)

func TestHousekeeper(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Housekeeper Suite")
}

var _ = Describe("Housekeeper", func() {
	It("fires a registered job roughly on its interval", func() {
		h := hk.New()
		go h.Run()
		defer h.Stop()

		var fired int32
		h.Reg("probe", 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

		Eventually(func() int32 { return atomic.LoadInt32(&fired) }, 2*time.Second, 10*time.Millisecond).
			Should(BeNumerically(">=", 1))
	})

	It("stops calling a job after it is unregistered", func() {
		h := hk.New()
		go h.Run()
		defer h.Stop()

		var fired int32
		h.Reg("probe", 15*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
		Eventually(func() int32 { return atomic.LoadInt32(&fired) }, 2*time.Second, 10*time.Millisecond).
			Should(BeNumerically(">=", 1))

		h.Unreg("probe")
		after := atomic.LoadInt32(&fired)
		time.Sleep(60 * time.Millisecond)
		Expect(atomic.LoadInt32(&fired)).To(Equal(after))
	})
})
