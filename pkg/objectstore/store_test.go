package objectstore_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/pkg/objectstore"
	"procodus.dev/gait-monitor/pkg/objectstore/mock"
)

var _ = Describe("Paths", func() {
	DescribeTable("ValidatePath",
		func(path string, valid bool) {
			err := objectstore.ValidatePath(path)
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(MatchError(objectstore.ErrInvalidPath))
			}
		},
		Entry("patient and reading", "p-1/3f1c.csv", true),
		Entry("single segment", "reading.csv", true),
		Entry("empty", "", false),
		Entry("absolute", "/etc/passwd", false),
		Entry("parent traversal", "p-1/../p-2/x.csv", false),
		Entry("dot segment", "./x.csv", false),
		Entry("empty segment", "p-1//x.csv", false),
		Entry("backslash", `p-1\x.csv`, false),
	)

	It("should escape and recover paths through URLs", func() {
		path := "patient one/reading#1.csv"
		url := "http://api.test/objects/" + objectstore.EscapePath(path)
		Expect(url).To(Equal("http://api.test/objects/patient%20one/reading%231.csv"))

		got, err := objectstore.PathFromURL("http://api.test/", url)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(path))
	})

	It("should reject URLs from another base", func() {
		_, err := objectstore.PathFromURL("http://api.test", "http://elsewhere.test/objects/a.csv")
		Expect(err).To(MatchError(objectstore.ErrInvalidPath))
	})
})

var _ = Describe("MockStore", func() {
	var (
		ctx   context.Context
		store *mock.MockStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = mock.NewMockStore()
	})

	It("should refuse to overwrite a path", func() {
		_, err := store.Upload(ctx, "p/a.csv", []byte("1,2,3,4,5,6"), "")
		Expect(err).NotTo(HaveOccurred())

		_, err = store.Upload(ctx, "p/a.csv", []byte("x"), "")
		Expect(err).To(MatchError(objectstore.ErrObjectExists))

		obj, err := store.Get(ctx, "p/a.csv")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(obj.Data)).To(Equal("1,2,3,4,5,6"))
		Expect(obj.ContentType).To(Equal(objectstore.DefaultContentType))
	})

	It("should serve objects through StoreFetcher", func() {
		_, err := store.Upload(ctx, "p/b.csv", []byte("payload"), "text/csv")
		Expect(err).NotTo(HaveOccurred())

		url, err := store.PublicURL(ctx, "p/b.csv")
		Expect(err).NotTo(HaveOccurred())

		fetcher := &objectstore.StoreFetcher{Store: store, BaseURL: store.BaseURL}
		data, err := fetcher.Fetch(ctx, url)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("payload"))
	})

	It("should report missing objects", func() {
		_, err := store.PublicURL(ctx, "p/missing.csv")
		Expect(err).To(MatchError(objectstore.ErrObjectNotFound))
	})
})
