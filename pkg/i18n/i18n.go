package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	GRPCListening      string
	ShuttingDown       string
	ShutdownComplete   string
	DryRunMode         string
	LiveModeWarning    string
	HostID             string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	ProfilingEnabled   string

	// Pipeline
	SessionStarted   string
	ThresholdsLoaded string
	ThresholdsFailed string
	JournalEnabled   string
	JournalFailed    string
	SchedulerStarted string
	PipelineDrained  string

	// Report
	ReportGenerated   string
	ReportFailed      string
	ReportSaved       string
	ReportSaveFailed  string
	SessionArchived   string
	AccountSyncFailed string

	// Services
	AccountStarted string
	ReconStarted   string
	MonitorStarted string
	WriterStarted  string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting momentum trader...",
	ConfigLoaded:       "Config loaded (Port: %s, broker: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	GRPCListening:      "gRPC health listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "Shutdown complete.",
	DryRunMode:         "Running in DRY-RUN mode (orders go to the simulated broker)",
	LiveModeWarning:    "Running in LIVE mode: orders reach the broker",
	HostID:             "Host tag: %s",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	ProfilingEnabled:   "Continuous profiling enabled: %s",

	// Pipeline
	SessionStarted:   "Session %s started",
	ThresholdsLoaded: "Thresholds: change > %.2f%%, volume > %d lots, %d lot(s) per signal",
	ThresholdsFailed: "Failed to load thresholds file: %v",
	JournalEnabled:   "Event journal enabled: %s",
	JournalFailed:    "Failed to open event journal: %v, continuing without it",
	SchedulerStarted: "Scan scheduler started (every %v)",
	PipelineDrained:  "Event pipeline drained (%d events applied)",

	// Report
	ReportGenerated:   "Session report generated",
	ReportFailed:      "Failed to generate session report: %v",
	ReportSaved:       "Session report saved (%s)",
	ReportSaveFailed:  "Failed to save session report: %v",
	SessionArchived:   "Session archived: %d orders, %d anomalies",
	AccountSyncFailed: "Account sync failed: %v",

	// Services
	AccountStarted: "Account manager started",
	ReconStarted:   "Reconciliation service started",
	MonitorStarted: "Monitor started",
	WriterStarted:  "Batch writer started",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動動能交易系統...",
	ConfigLoaded:       "設定已載入（埠號：%s，券商：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	GRPCListening:      "gRPC 健康檢查監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ShutdownComplete:   "關閉完成。",
	DryRunMode:         "DRY-RUN 模式（委託送往模擬券商）",
	LiveModeWarning:    "實盤模式：委託將送至券商",
	HostID:             "主機標記：%s",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	ProfilingEnabled:   "持續效能分析已啟用：%s",

	// Pipeline
	SessionStarted:   "交易時段 %s 開始",
	ThresholdsLoaded: "門檻：漲幅 > %.2f%%，成交量 > %d 張，每訊號 %d 張",
	ThresholdsFailed: "讀取門檻設定檔失敗：%v",
	JournalEnabled:   "事件日誌已啟用：%s",
	JournalFailed:    "開啟事件日誌失敗：%v，改為不記錄",
	SchedulerStarted: "掃描排程已啟動（每 %v）",
	PipelineDrained:  "事件管線已清空（已套用 %d 筆事件）",

	// Report
	ReportGenerated:   "交易時段報告已產生",
	ReportFailed:      "產生交易時段報告失敗：%v",
	ReportSaved:       "交易時段報告已保存（%s）",
	ReportSaveFailed:  "保存交易時段報告失敗：%v",
	SessionArchived:   "交易時段已歸檔：%d 筆委託，%d 筆異常",
	AccountSyncFailed: "帳戶同步失敗：%v",

	// Services
	AccountStarted: "帳戶管理器已啟動",
	ReconStarted:   "對帳服務已啟動",
	MonitorStarted: "監控已啟動",
	WriterStarted:  "批次寫入器已啟動",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
