package apperr

var (
	ErrUnauthorized       = Unauthorized("authentication required")
	ErrInvalidCredentials = Unauthorized("invalid email or password")
	ErrAccountInactive    = Forbidden("account is not active")

	ErrChannelNotFound      = NotFound("channel not found")
	ErrChannelDisabled      = Forbidden("channel is disabled")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrTagNotFound          = NotFound("tag not found")
	ErrQuickReplyNotFound   = NotFound("quick reply not found")
	ErrBroadcastNotFound    = NotFound("broadcast not found")
	ErrMemberNotFound       = NotFound("team member not found")
	ErrPermissionDenied     = Forbidden("you do not have permission to perform this action")

	ErrInviteNotFound    = NotFound("invitation not found or already used")
	ErrInviteExpired     = Expired("invitation has expired")
	ErrSelfInvite        = Forbidden("you cannot invite yourself")
	ErrInviteBoundToUser = Forbidden("this invitation belongs to another account")
	ErrAlreadyInvited    = Conflict("this email already invited")
	ErrAlreadyMember     = Conflict("this user is already a team member")

	ErrEmailTaken    = Conflict("email already registered")
	ErrTagNameTaken  = Conflict("tag name already exists")
	ErrBroadcastBusy = Conflict("broadcast is already being sent")
	ErrBroadcastLock = Conflict("broadcast can no longer be modified")

	ErrInvalidSignature = Unauthorized("invalid webhook signature")
	ErrInvalidPath      = InvalidArg("invalid file path")
)
