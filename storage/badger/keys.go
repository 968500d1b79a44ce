package badger

import "fmt"

// Key prefixes for different data types
const (
	registryEntryPrefix   = "regent"
	registryDimPrefix     = "regdim"
	jobRecordPrefix       = "ingjob"
	documentStatePrefix   = "docst"
	embeddingRecordPrefix = "embrec"
	vectorRecordPrefix    = "vecrec"
)

// makeRegistryKey generates a key for a registry entry.
// Format: prefix:target:hash
func makeRegistryKey(target, hash string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", registryEntryPrefix, target, hash))
}

// makeRegistryTargetPrefix generates the partial key covering one target's entries.
func makeRegistryTargetPrefix(target string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", registryEntryPrefix, target))
}

// makeDimensionKey generates a key for a target's established dimension.
func makeDimensionKey(target string) []byte {
	return []byte(fmt.Sprintf("%s:%s", registryDimPrefix, target))
}

// makeJobKey generates a key for an ingestion job. Job ids are ULIDs, so
// lexicographic key order is creation order.
func makeJobKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobRecordPrefix, id))
}

// makeDocumentKey generates a key for a document state.
func makeDocumentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentStatePrefix, id))
}

// makeEmbeddingKey generates a key for a cached embedding.
func makeEmbeddingKey(chunkID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", embeddingRecordPrefix, chunkID))
}

// makeVectorKey generates a key for a vector record in a collection.
// Format: prefix:collection:id
func makeVectorKey(collection, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", vectorRecordPrefix, collection, id))
}

// makeCollectionPrefix generates the partial key covering a collection.
func makeCollectionPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", vectorRecordPrefix, collection))
}

func prefixOf(p string) []byte {
	return []byte(p + ":")
}
