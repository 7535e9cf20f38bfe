// Package memory persists interaction episodes and retrieves them by
// hybrid search.
//
// Invariants:
// - Every saved episode is keyword-searchable; vector search joins in
//   when an embedder is configured.
// - Either retrieval method can fail without sinking the other.
// - Pruning removes an episode from all three tables or none.
//
// Usage:
//
//	store, _ := memory.NewStore(memory.Config{DBPath: "/data/memory.db"})
//	defer store.Close()
//	_, _ = store.Save(ctx, memory.Episode{SessionID: "s1", Request: "add milk to groceries", Outcome: "success"})
//	snippets, _ := store.Retrieve(ctx, "groceries", nil)
//	_ = snippets
package memory
