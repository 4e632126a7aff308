package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pool_deposits (
	deposit_id TEXT PRIMARY KEY,
	source_chain TEXT NOT NULL,
	destination_chain TEXT NOT NULL,
	amount TEXT NOT NULL,
	user_address BYTEA NOT NULL,

	status SMALLINT NOT NULL,

	bridge_tx TEXT,
	vault_tx TEXT,
	fail_reason TEXT,

	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT deposit_id_nonempty CHECK (length(deposit_id) > 0),
	CONSTRAINT amount_digits CHECK (amount ~ '^[0-9]+$'),
	CONSTRAINT user_address_len CHECK (octet_length(user_address) = 20),
	CONSTRAINT status_range CHECK (status >= 1 AND status <= 4)
);

CREATE INDEX IF NOT EXISTS pool_deposits_created_at_idx ON pool_deposits (created_at);
`
