package index

// Candidate is a record that shares at least one n-gram with a query,
// together with the record's full n-gram sequence.
type Candidate struct {
	ID     string
	Ngrams []string
}

// postingSet holds the ids of every record containing one n-gram.
type postingSet map[string]struct{}

// record is the last-known state of an indexed id. seq orders records by
// first insertion and is the scan order candidates are returned in.
type record struct {
	seq    uint64
	ngrams []string
}

// TermEntry is one n-gram and its sorted posting list.
type TermEntry struct {
	Ngram string
	IDs   []string
}
