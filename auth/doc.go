// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides authentication and token generation utilities.

# Member Tokens

Member tokens are random 24-byte (192-bit) secrets handed out once at
registration:

	token, err := auth.GenerateMemberToken()

Only the HMAC-SHA256 of the token is stored, so a presented token is looked
up by hash:

	hash := auth.HashToken(token, cfg.TokenSalt)

Requests carry the token in X-Member-Token or an Authorization: Bearer
header:

	token, err := auth.TokenFromRequest(r)

# Admin Key

The configured admin key is only used when registering a member. A matching
X-Admin-Key header makes the new member an admin; from then on the member's
own token carries the admin rights.

	err := auth.ValidateAdminKey(provided, cfg.AdminKey)

# ID Generation

Random UUIDs for database records:

	id := auth.NewID()
*/
package auth
