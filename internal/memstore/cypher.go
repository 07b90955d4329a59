package memstore

const vectorIndexName = "memory_embeddings"

const cypherUpsertConversation = `
MERGE (c:Conversation {session_id: $session_id})
SET c.start_time = $start_time,
    c.end_time = $end_time,
    c.message_count = $message_count
`

const cypherCreateMemory = `
MATCH (c:Conversation {session_id: $source_conversation_id})
CREATE (m:Memory {
  memory_id: $memory_id,
  memory_type: $memory_type,
  content: $content,
  confidence: $confidence,
  category: $category,
  source_conversation_id: $source_conversation_id,
  extraction_timestamp: $extraction_timestamp,
  learned_at: $learned_at,
  valid_from: $valid_from,
  valid_until: null,
  supersedes: $supersedes,
  superseded_by: null,
  embedding: $embedding,
  has_embedding: $has_embedding,
  embedding_version: $embedding_version,
  embedding_updated_at: $embedding_updated_at,
  last_accessed: null,
  access_count: 0,
  metadata_json: $metadata_json
})
MERGE (c)-[:CONTAINS_MEMORY]->(m)
`

// cypherFindContradictionCandidates retrieves embedded, temporally-open
// records of the same memory_type, for in-process cosine scoring (the
// driver's vector index is queried only for top-level retrieval in C8;
// contradiction detection here additionally needs "temporally overlapping"
// filtering the vector index procedure alone cannot express).
const cypherFindContradictionCandidates = `
MATCH (m:Memory)
WHERE m.has_embedding = true
  AND m.memory_type = $memory_type
  AND m.memory_id <> $new_memory_id
  AND (m.valid_until IS NULL OR m.valid_until > $valid_from)
RETURN m.memory_id AS memory_id, m.content AS content, m.embedding AS embedding
`

const cypherSupersede = `
MATCH (old:Memory {memory_id: $old_id})
MATCH (new:Memory {memory_id: $new_id})
SET old.valid_until = $valid_from,
    old.superseded_by = $new_id,
    new.supersedes = $old_id
MERGE (new)-[r:SUPERSEDES]->(old)
SET r.created_at = $now
`

const cypherStoreEmbedding = `
MATCH (m:Memory {memory_id: $memory_id})
SET m.embedding = $embedding,
    m.has_embedding = true,
    m.embedding_version = $embedding_version,
    m.embedding_updated_at = $now
RETURN m.memory_id AS id
`

const cypherMemoriesWithoutEmbeddings = `
MATCH (m:Memory)
WHERE m.has_embedding = false OR m.has_embedding IS NULL
RETURN m.memory_id AS memory_id, m.memory_type AS memory_type, m.content AS content
LIMIT $batch_size
`

// cypherVectorSearch is C8's primary read path: the native vector index,
// pre-filtered by confidence/similarity/type the way the index procedure
// allows, over-fetching 2x top_k per spec so post-filtering (dedup, rank)
// still has enough candidates.
const cypherVectorSearch = `
CALL db.index.vector.queryNodes($index_name, $search_k, $query_vector)
YIELD node AS m, score
WHERE m.confidence >= $min_confidence
  AND score >= $min_similarity
RETURN
  m.memory_id AS memory_id,
  m.memory_type AS memory_type,
  m.content AS content,
  m.confidence AS confidence,
  m.source_conversation_id AS source_conversation_id,
  m.extraction_timestamp AS extraction_timestamp,
  m.learned_at AS learned_at,
  m.valid_from AS valid_from,
  m.valid_until AS valid_until,
  m.supersedes AS supersedes,
  m.superseded_by AS superseded_by,
  m.embedding AS embedding,
  m.has_embedding AS has_embedding,
  m.embedding_version AS embedding_version,
  m.embedding_updated_at AS embedding_updated_at,
  m.last_accessed AS last_accessed,
  m.access_count AS access_count,
  m.metadata_json AS metadata_json,
  score AS similarity
ORDER BY score DESC
LIMIT $search_k
`

const cypherTouchAccess = `
MATCH (m:Memory {memory_id: $memory_id})
SET m.last_accessed = $now,
    m.access_count = coalesce(m.access_count, 0) + 1
`
