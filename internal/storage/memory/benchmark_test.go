package memory

import (
	"fmt"
	"testing"

	"mailtrap/backend/internal/domain"
)

func BenchmarkMemoryStore_Put(b *testing.B) {
	store := NewStore(&fakeFiles{}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Put(&domain.Message{ID: fmt.Sprintf("message-%d", i)})
	}
}

func BenchmarkMemoryStore_List(b *testing.B) {
	store := NewStore(&fakeFiles{}, nil)

	// Pre-populate with test data
	for i := 0; i < 1000; i++ {
		_ = store.Put(&domain.Message{
			ID:      fmt.Sprintf("message-%d", i),
			Subject: fmt.Sprintf("subject %d", i),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.List()
	}
}

func BenchmarkMemoryStore_Search(b *testing.B) {
	store := NewStore(&fakeFiles{}, nil)
	for i := 0; i < 1000; i++ {
		_ = store.Put(&domain.Message{
			ID:      fmt.Sprintf("message-%d", i),
			Subject: fmt.Sprintf("subject %d", i),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Search(domain.SearchCriteria{Query: "subject 99"})
	}
}
