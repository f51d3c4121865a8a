package service

import "github.com/noah-isme/sayit-api/pkg/apperror"

var (
	ErrReplyTargetNotFound          = apperror.NotFound("reply target not found")
	ErrReplyTargetNotInConversation = apperror.InvalidArg("reply target does not belong to this conversation")
	ErrMessageNotFound              = apperror.NotFound("message not found")
	ErrMessageForbidden             = apperror.Forbidden("not allowed to access this message")
	ErrSelfMessage                  = apperror.Conflict("cannot send a message to yourself")
	ErrReceiverNotFound             = apperror.NotFound("receiver not found")
	ErrEmptyContent                 = apperror.InvalidArg("message content cannot be empty")
	ErrConversationNotFound         = apperror.NotFound("conversation not found")
	ErrConversationForbidden        = apperror.Forbidden("not a participant of this conversation")
	ErrSelfConversation             = apperror.InvalidArg("a conversation needs two distinct users")
	ErrBlockedByTarget              = apperror.Conflict("you have been blocked by this user")
	ErrTargetBlocked                = apperror.Conflict("you have blocked this user")
	ErrNotificationNotFound         = apperror.NotFound("notification not found")
	ErrNotificationForbidden        = apperror.Forbidden("not allowed to modify this notification")
	ErrEmailTaken                   = apperror.Conflict("email already registered")
	ErrInvalidCredentials           = apperror.Unauthorized("invalid email or password")
	ErrPasswordMismatch             = apperror.InvalidArg("password confirmation does not match")
	ErrUserNotFound                 = apperror.NotFound("user not found")
	ErrRelationNotFound             = apperror.NotFound("relation not found")
	ErrRelationForbidden            = apperror.Forbidden("not allowed to remove this relation")
	ErrSelfRelation                 = apperror.Conflict("cannot follow or block yourself")
	ErrAvatarStorageDisabled        = apperror.New(apperror.CodeInternal, "avatar storage is not configured")
	ErrAvatarTooLarge               = apperror.InvalidArg("avatar exceeds maximum size")
	ErrAvatarUnsupportedType        = apperror.InvalidArg("avatar must be a jpeg, png, webp or gif image")
)
