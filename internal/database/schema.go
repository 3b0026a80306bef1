package database

var schema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id VARCHAR(64) PRIMARY KEY,
    credits INT NOT NULL DEFAULT 2,
    is_premium TINYINT(1) NOT NULL DEFAULT 0,
    last_reset TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    referred_by VARCHAR(64),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);`, `
CREATE TABLE IF NOT EXISTS referrals (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    referrer_id VARCHAR(64) NOT NULL,
    referee_id VARCHAR(64) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_referrer_referee (referrer_id, referee_id),
    FOREIGN KEY (referrer_id) REFERENCES accounts(user_id)
);`, `
CREATE TABLE IF NOT EXISTS job_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    prompt TEXT NOT NULL,
    ok TINYINT(1) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);`}
