package errors

// Not-found errors abort before any side effect.
var (
	ErrUserNotFound  = NotFound("user not found")
	ErrChatNotFound  = NotFound("chat not found")
	ErrGroupNotFound = NotFound("group not found")
	ErrNotAMember    = NotFound("user is not a member")
)

// Authorization errors indicate a failed role or membership check.
var (
	ErrNotChatMember   = Forbidden("you are not a member of this chat")
	ErrNotGroupMember  = Forbidden("you are not a member of this group")
	ErrAdminRequired   = Forbidden("only an admin can do this")
	ErrSelfTarget      = Forbidden("an admin cannot target themselves")
	ErrAdminReassign   = New(CodeAdminMustReassign, "assign another admin before leaving the group")
	ErrConcurrentWrite = New(CodeConflict, "membership changed concurrently, try again")
)

// Key and crypto errors. A failure on the sender's own key is fatal to the
// operation; a failure on one recipient is isolated by the caller.
var (
	ErrActiveKeyMissing = New(CodeKey, "active key not found")
	ErrKeyNotFound      = New(CodeKey, "key not found")
	ErrKeyDecryption    = New(CodeKey, "private key decryption failed")
	ErrDecryption       = New(CodeCrypto, "message decryption failed")
	ErrEncryption       = New(CodeCrypto, "message encryption failed")
	ErrKeyAgreement     = New(CodeCrypto, "key agreement failed")
	ErrNoRecipients     = New(CodeKey, "no group member has a resolvable key")
)

var (
	ErrEmptyMessage     = Validation("message is required")
	ErrMissingRecipient = Validation("recipient is required")
	ErrSelfConnection   = Validation("cannot connect to yourself")
	ErrInvalidGroupName = Validation("groupName must be at least 3 characters and contain letters, numbers, or underscores")
	ErrUsernameTaken    = New(CodeAlreadyExists, "username or email already in use")
)
