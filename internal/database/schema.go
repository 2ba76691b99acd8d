package database

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    owner_id BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL,
    price DECIMAL(10,2) NOT NULL,
    description TEXT,
    media_url VARCHAR(512),
    media_kind VARCHAR(16),
    file_url VARCHAR(512),
    group_id VARCHAR(64),
    require_fees TINYINT(1) NOT NULL DEFAULT 0,
    legacy_upsell_product_id BIGINT,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fees (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    product_id BIGINT NOT NULL,
    name VARCHAR(100) NOT NULL,
    amount DECIMAL(8,2) NOT NULL,
    description TEXT,
    payment_message TEXT,
    button_text VARCHAR(64),
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    display_order INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    FOREIGN KEY (product_id) REFERENCES products(id)
);

CREATE TABLE IF NOT EXISTS message_templates (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    owner_id BIGINT NOT NULL,
    message_type VARCHAR(32) NOT NULL,
    content TEXT NOT NULL,
    media_url VARCHAR(512),
    media_kind VARCHAR(16),
    buttons TEXT,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    display_order INT NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_templates_type (owner_id, message_type, is_active)
);

CREATE TABLE IF NOT EXISTS upsell_offers (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    product_id BIGINT NOT NULL,
    target_product_id BIGINT NOT NULL,
    message_override TEXT,
    display_order INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (product_id) REFERENCES products(id),
    FOREIGN KEY (target_product_id) REFERENCES products(id)
);

CREATE TABLE IF NOT EXISTS downsell_offers (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    product_id BIGINT NOT NULL UNIQUE,
    target_product_id BIGINT NOT NULL,
    message_override TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (product_id) REFERENCES products(id),
    FOREIGN KEY (target_product_id) REFERENCES products(id)
);

CREATE TABLE IF NOT EXISTS sessions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    chat_id BIGINT NOT NULL UNIQUE,
    customer_name VARCHAR(255),
    state VARCHAR(32) NOT NULL,
    selected_product_id BIGINT,
    funnel_stage VARCHAR(16) NOT NULL DEFAULT 'none',
    funnel_cursor INT NOT NULL DEFAULT 0,
    fee_settlement TEXT,
    pending_order_id BIGINT,
    reminder_sent_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    session_id BIGINT NOT NULL,
    chat_id BIGINT NOT NULL,
    product_id BIGINT NOT NULL,
    fee_id BIGINT,
    kind VARCHAR(16) NOT NULL,
    amount DECIMAL(10,2) NOT NULL,
    currency VARCHAR(8) NOT NULL,
    pix_tx_id VARCHAR(128) NOT NULL,
    pix_code TEXT,
    qr_code_url VARCHAR(512),
    status VARCHAR(16) NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_pix_tx (pix_tx_id),
    FOREIGN KEY (session_id) REFERENCES sessions(id),
    FOREIGN KEY (product_id) REFERENCES products(id)
);
`
