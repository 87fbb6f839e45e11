package postgres

// SQL queries for transaction log reads.
// Every query bounds processing_date to [$1, $2) and filters entity_id when $3 is non-empty.

const (
	// queryScanRecords pages the range by seq so batch boundaries never skip or repeat rows.
	queryScanRecords = `
		SELECT
			seq, id, upload_id, entity_id, record_type,
			processing_date, raw_amount, currency_exponent
		FROM transactions
		WHERE processing_date >= $1
		  AND processing_date < $2
		  AND ($3 = '' OR entity_id = $3)
		  AND seq > $4
		ORDER BY seq ASC
		LIMIT $5
	`

	queryCountRecords = `
		SELECT COUNT(*)
		FROM transactions
		WHERE processing_date >= $1
		  AND processing_date < $2
		  AND ($3 = '' OR entity_id = $3)
	`

	// queryListPage is offset-based; listing kinds address pages by number.
	queryListPage = `
		SELECT
			seq, id, upload_id, entity_id, record_type,
			processing_date, raw_amount, currency_exponent
		FROM transactions
		WHERE processing_date >= $1
		  AND processing_date < $2
		  AND ($3 = '' OR entity_id = $3)
		ORDER BY seq ASC
		OFFSET $4
		LIMIT $5
	`

	querySchemaTables = `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_name IN ('transactions', 'aggregates', 'rebuild_jobs')
	`
)
