package constants

// 订单状态常量（回写到外部订单存储）
const (
	OrderStatusPending    = "pending"
	OrderStatusPaid       = "paid"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
)

// 卡密状态常量
const (
	LicenseKeyStatusUnused = "unused"
	LicenseKeyStatusUsed   = "used"
)

// 卡密作用范围：全部商品
const LicenseKeyScopeAll = "all"

// 卡密组默认容量
const DefaultGroupCapacity = 3

// 自动化台账状态常量
const (
	LedgerStatusRunning   = "running"
	LedgerStatusCompleted = "completed"
	LedgerStatusFailed    = "failed"
)

// 自动化任务事件类型
const (
	JobEventStarted   = "started"
	JobEventCompleted = "completed"
	JobEventFailed    = "failed"
	JobEventCancelled = "cancelled"
)

// 实时推送通道常量
const (
	RealtimeEventJobUpdate = "job-update"
	RealtimeEventJoinRoom  = "join-room"
	RealtimeRoomAutomation = "automation"
)

// 对账结果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// 队列任务类型
const (
	TaskAutomationSubmit = "automation:submit"
	TaskAutomationAlert  = "automation:alert"
)

// 队列名称
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

// 设置键
const (
	SettingKeyAutomationConfig = "automation_config"
)

// 玩家 ID 默认元数据键
const DefaultPlayerIDMetaKey = "player_id"

// 订单级元数据键前缀
const OrderMetaKeyPrefix = "_"

// 订单备注文案
const (
	OrderMessageCompleted   = "✅ completed via automation"
	OrderMessageFailed      = "❌ automation failed"
	OrderMessageStatus      = "🔄 status: %s"
	OrderMessageSubmitted   = "🔄 automation submitted (request %s)"
	OrderMessageAwaiting    = "🔄 automation submitted, awaiting server confirmation"
	OrderMessageNoKey       = "❌ automation deferred: no license key available"
	OrderMessageNoPlayerID  = "❌ automation skipped: player id missing"
	CancelledJobMessage     = "automation was cancelled"
	ExpiredJobMessage       = "no result from automation server before deadline"
	AlertRetryDisabledNotes = "Automatic retry is disabled for this order. Manual intervention is required."
)
