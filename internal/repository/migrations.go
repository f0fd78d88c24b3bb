package repository

// The bucket index lives in the database: two SQL functions installed next to
// the tables. get_hash_bucket folds a 64-bit fingerprint into a coarse bucket
// (the leading 8 bits as an integer); find_candidates scans one modality's
// bucket neighbourhood and returns ids ordered by Hamming distance.
// bit_count over bit(64) needs PostgreSQL 14 or later.
var indexFunctions = []string{
	`CREATE OR REPLACE FUNCTION get_hash_bucket(hash text)
RETURNS integer AS $$
  SELECT (substring(hash from 1 for 8))::bit(8)::integer;
$$ LANGUAGE sql IMMUTABLE;`,

	`CREATE OR REPLACE FUNCTION find_candidates(
    hash_col text,
    bucket_col text,
    search_hash text,
    search_bucket integer,
    bucket_range integer,
    distance_threshold integer)
RETURNS TABLE(id text, distance integer, bucket integer) AS $$
BEGIN
  RETURN QUERY EXECUTE format(
    'SELECT s.id::text,
            bit_count(s.%I::bit(64) # $1::bit(64))::integer AS distance,
            s.%I AS bucket
       FROM subjects s
      WHERE s.%I IS NOT NULL
        AND s.%I BETWEEN $2 - $3 AND $2 + $3
        AND bit_count(s.%I::bit(64) # $1::bit(64)) <= $4
      ORDER BY distance ASC',
    hash_col, bucket_col, hash_col, bucket_col, hash_col)
  USING search_hash, search_bucket, bucket_range, distance_threshold;
END;
$$ LANGUAGE plpgsql STABLE;`,
}
