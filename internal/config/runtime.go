package config

import "time"

// RuntimeConfig bounds the conversation runtime and subscription registry
// (§5 resource caps).
type RuntimeConfig struct {
	MaxConversations        int           `mapstructure:"MAX_CONVERSATIONS"         json:"max_conversations"         validate:"required,min=1,max=1000000"`
	MaxStandingListenersPerKind int       `mapstructure:"MAX_STANDING_LISTENERS_PER_KIND" json:"max_standing_listeners_per_kind" validate:"required,min=1,max=100000"`
	ConversationInboxSize   int           `mapstructure:"CONVERSATION_INBOX_SIZE"   json:"conversation_inbox_size"   validate:"required,min=1,max=100000"`
	SubscriptionQueueDepth  int           `mapstructure:"SUBSCRIPTION_QUEUE_DEPTH"  json:"subscription_queue_depth"  validate:"required,min=1,max=100000"`
	DeadlineGrace           time.Duration `mapstructure:"DEADLINE_GRACE"            json:"deadline_grace"            validate:"required,timeout_duration"`
}
