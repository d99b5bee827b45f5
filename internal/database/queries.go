package database

// Schema

const schemaLedger = `
	-- Users: one row per registered wallet owner
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		canonical_address TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);

	-- Every textual encoding of a user's wallet. A variant belongs to exactly one user.
	CREATE TABLE IF NOT EXISTS user_address_variants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		address_variant TEXT NOT NULL UNIQUE,
		variant_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_variants_user_id ON user_address_variants(user_id);

	-- Inbound and outbound chain transfers, stored at most once per hash
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		user_id TEXT REFERENCES users(id),
		transaction_type TEXT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		fee INTEGER NOT NULL DEFAULT 0,
		logical_time INTEGER NOT NULL DEFAULT 0,
		utime INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('confirmed', 'unassigned', 'reversed')),
		comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_logical_time ON transactions(logical_time);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);

	-- Checkpoint and health, single row
	CREATE TABLE IF NOT EXISTS system_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_logical_time INTEGER NOT NULL DEFAULT 0,
		last_check_at TIMESTAMP,
		last_success_at TIMESTAMP,
		monitor_status TEXT NOT NULL DEFAULT 'stopped',
		api_status TEXT NOT NULL DEFAULT 'unknown',
		db_status TEXT NOT NULL DEFAULT 'ok',
		error_count INTEGER NOT NULL DEFAULT 0,
		consecutive_errors INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO system_status (id) VALUES (1);

	-- Append-only audit trail
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		user_id TEXT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_values TEXT NOT NULL DEFAULT '',
		new_values TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

	-- Listings offered through escrow
	CREATE TABLE IF NOT EXISTS listings (
		listing_id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL REFERENCES users(id),
		channel_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		price INTEGER NOT NULL CHECK (price > 0),
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		sold_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);

	-- Escrow transactions
	CREATE TABLE IF NOT EXISTS escrow_transactions (
		transaction_id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(listing_id),
		buyer_id TEXT NOT NULL REFERENCES users(id),
		seller_id TEXT NOT NULL REFERENCES users(id),
		amount INTEGER NOT NULL CHECK (amount > 0),
		buyer_wallet TEXT NOT NULL,
		escrow_address TEXT NOT NULL UNIQUE,
		payment_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		buyer_confirmed BOOLEAN NOT NULL DEFAULT 0,
		seller_confirmed BOOLEAN NOT NULL DEFAULT 0,
		timeout_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		payment_confirmed_at TIMESTAMP,
		buyer_confirmed_at TIMESTAMP,
		seller_confirmed_at TIMESTAMP,
		completed_at TIMESTAMP,
		refunded_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (buyer_id <> seller_id)
	);

	CREATE INDEX IF NOT EXISTS idx_escrow_status_timeout ON escrow_transactions(status, timeout_at);
	CREATE INDEX IF NOT EXISTS idx_escrow_listing ON escrow_transactions(listing_id);
	`

const schemaSubledger = `
	-- Balances (hot data). Amounts in nanotons.
	CREATE TABLE IF NOT EXISTS user_balances (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		current_balance INTEGER NOT NULL DEFAULT 0,
		total_deposited INTEGER NOT NULL DEFAULT 0,
		total_withdrawn INTEGER NOT NULL DEFAULT 0,
		locked_in_escrow INTEGER NOT NULL DEFAULT 0,
		deposit_count INTEGER NOT NULL DEFAULT 0,
		withdrawal_count INTEGER NOT NULL DEFAULT 0,
		last_deposit_at TIMESTAMP,
		last_withdrawal_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CHECK (current_balance >= 0),
		CHECK (current_balance = total_deposited - total_withdrawn - locked_in_escrow)
	);

	-- Journal entries for double-entry bookkeeping
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount INTEGER NOT NULL DEFAULT 0,
		credit_amount INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_reference ON journal_entries(reference);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);
	`

// Users

const (
	userColumns = `id, external_id, wallet_address, canonical_address, active, created_at, updated_at`

	queryInsertUser = `
		INSERT INTO users (id, external_id, wallet_address, canonical_address, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`

	queryInsertAddressVariant = `
		INSERT INTO user_address_variants (user_id, address_variant, variant_type, created_at)
		VALUES (?, ?, ?, ?)`

	queryGetUsers = `SELECT ` + userColumns + ` FROM users WHERE active = 1 ORDER BY created_at`

	queryGetUserById = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	queryGetUserByExternalId = `SELECT ` + userColumns + ` FROM users WHERE external_id = ? ORDER BY created_at LIMIT 1`

	queryGetUserVariants = `
		SELECT address_variant FROM user_address_variants
		WHERE user_id = ?
		ORDER BY address_variant`

	// Expanded with one placeholder per lookup key.
	queryFindUserIdByVariantsPrefix = `
		SELECT DISTINCT user_id FROM user_address_variants
		WHERE address_variant IN (`
)

// Balances

const (
	balanceColumns = `user_id, current_balance, total_deposited, total_withdrawn, locked_in_escrow,
		deposit_count, withdrawal_count, last_deposit_at, last_withdrawal_at, version, updated_at`

	queryInsertBalance = `
		INSERT INTO user_balances (user_id, updated_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING`

	queryGetBalance = `SELECT ` + balanceColumns + ` FROM user_balances WHERE user_id = ?`

	// $1 amount, $2 deposit counter increment, $3 deposit time (NULL keeps the old one)
	queryCreditBalance = `
		UPDATE user_balances
		SET current_balance = current_balance + ?1,
			total_deposited = total_deposited + ?1,
			deposit_count = deposit_count + ?2,
			last_deposit_at = COALESCE(?3, last_deposit_at),
			version = version + 1,
			updated_at = ?4
		WHERE user_id = ?5`

	queryDebitBalance = `
		UPDATE user_balances
		SET current_balance = current_balance - ?1,
			total_withdrawn = total_withdrawn + ?1,
			withdrawal_count = withdrawal_count + 1,
			last_withdrawal_at = ?2,
			version = version + 1,
			updated_at = ?2
		WHERE user_id = ?3 AND current_balance >= ?1`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, reference, entry_type, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryJournalTotals = `
		SELECT COALESCE(SUM(debit_amount), 0), COALESCE(SUM(credit_amount), 0)
		FROM journal_entries
		WHERE account_type = 'user_balance' AND account_id = ?`

	queryCountCreditedDeposits = `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND transaction_type = 'deposit' AND status = 'confirmed'`
)

// Transactions

const (
	transactionColumns = `id, hash, user_id, transaction_type, from_address, to_address, amount, fee,
		logical_time, utime, status, comment, created_at`

	queryInsertTransactionIgnore = `
		INSERT INTO transactions (id, hash, user_id, transaction_type, from_address, to_address, amount, fee,
			logical_time, utime, status, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`

	queryGetTransactionByHash = `SELECT ` + transactionColumns + ` FROM transactions WHERE hash = ?`

	queryAssignTransaction = `
		UPDATE transactions
		SET user_id = ?, status = 'confirmed', updated_at = ?
		WHERE hash = ? AND status = 'unassigned' AND user_id IS NULL`

	queryGetTransactionHistory = `
		SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, logical_time DESC
		LIMIT ? OFFSET ?`

	queryGetUnassignedTransactions = `
		SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'unassigned'
		ORDER BY logical_time
		LIMIT ?`
)

// Checkpoint / status

const (
	queryGetCheckpoint = `SELECT last_logical_time FROM system_status WHERE id = 1`

	queryAdvanceCheckpoint = `
		UPDATE system_status
		SET last_logical_time = MAX(last_logical_time, ?), updated_at = ?
		WHERE id = 1`

	queryGetSystemStatus = `
		SELECT last_logical_time, last_check_at, last_success_at, monitor_status, api_status, db_status,
			error_count, consecutive_errors, last_error, updated_at
		FROM system_status WHERE id = 1`

	queryUpdatePollSuccess = `
		UPDATE system_status
		SET last_check_at = ?1, last_success_at = ?1, monitor_status = ?2, api_status = ?3,
			consecutive_errors = 0, updated_at = ?1
		WHERE id = 1`

	queryUpdatePollFailure = `
		UPDATE system_status
		SET last_check_at = ?1, monitor_status = ?2, api_status = ?3,
			error_count = error_count + 1, consecutive_errors = ?4, last_error = ?5, updated_at = ?1
		WHERE id = 1`

	queryUpdateMonitorStatus = `
		UPDATE system_status SET monitor_status = ?, updated_at = ? WHERE id = 1`
)

// Audit

const (
	queryInsertAudit = `
		INSERT INTO audit_log (event_type, user_id, entity_type, entity_id, old_values, new_values, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetAuditLog = `
		SELECT id, event_type, COALESCE(user_id, ''), entity_type, entity_id, old_values, new_values, correlation_id, created_at
		FROM audit_log
		WHERE entity_id = ?
		ORDER BY id`
)

// Listings

const (
	listingColumns = `listing_id, seller_id, channel_id, title, price, status, created_at, sold_at`

	queryInsertListing = `
		INSERT INTO listings (listing_id, seller_id, channel_id, title, price, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)`

	queryGetListing = `SELECT ` + listingColumns + ` FROM listings WHERE listing_id = ?`

	queryListListings = `SELECT ` + listingColumns + ` FROM listings WHERE (? = '' OR status = ?) ORDER BY created_at`

	queryMarkListingSold = `
		UPDATE listings SET status = 'sold', sold_at = ?
		WHERE listing_id = ? AND status = 'active'`
)

// Escrow

const (
	escrowColumns = `transaction_id, listing_id, buyer_id, seller_id, amount, buyer_wallet, escrow_address,
		payment_hash, status, buyer_confirmed, seller_confirmed, timeout_at, created_at,
		payment_confirmed_at, buyer_confirmed_at, seller_confirmed_at, completed_at, refunded_at, version`

	queryInsertEscrow = `
		INSERT INTO escrow_transactions (transaction_id, listing_id, buyer_id, seller_id, amount, buyer_wallet,
			escrow_address, payment_hash, status, buyer_confirmed, seller_confirmed, timeout_at, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, 1)`

	queryGetEscrow = `SELECT ` + escrowColumns + ` FROM escrow_transactions WHERE transaction_id = ?`

	// Compare-and-swap on version; the last parameter is the version the caller read.
	queryUpdateEscrow = `
		UPDATE escrow_transactions
		SET payment_hash = ?, status = ?, buyer_confirmed = ?, seller_confirmed = ?,
			payment_confirmed_at = ?, buyer_confirmed_at = ?, seller_confirmed_at = ?,
			completed_at = ?, refunded_at = ?, version = version + 1
		WHERE transaction_id = ? AND version = ?`

	queryListExpiredEscrows = `
		SELECT ` + escrowColumns + ` FROM escrow_transactions
		WHERE status IN ('pending_payment', 'payment_confirmed') AND timeout_at < ?1
			AND (timeout_at > ?2 OR (timeout_at = ?2 AND transaction_id > ?3))
		ORDER BY timeout_at, transaction_id
		LIMIT ?4`
)
