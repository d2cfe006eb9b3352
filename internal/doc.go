// Package internal 即時多房間聊天室與問答遊戲的協調引擎。
//
// 一個進程同時服務多條 WebSocket 連線，每條連線拿到一個暫時的顯示名稱，
// 可以在房間之間移動、聊天，並參與房間內的計時問答遊戲。
//
// # 核心元件
//
//   - Registry：連線 → 顯示名稱與所在房間。房間人數一律由此推導
//   - Directory：房間目錄，依人數排序輸出
//   - Games：每個房間至多一個問答 session，由計時器推進
//   - Manager：單一寫者，所有入站事件與計時器回呼都在同一把鎖內執行
//   - WebSocketHub：傳輸層，實作 Broadcaster，處理心跳與限流
//   - Handler：唯讀 HTTP API（房間、排行榜、健康檢查）
//
// # 事件範圍
//
// 每個出站事件只有三種收件範圍：發起的連線、同房間、所有連線。
// 房間人數變動時 rooms_list 會推送給所有連線。
//
// # 外部依賴
//
// 全部可選，未設定時退回進程內實作：
//   - PostgreSQL：歷史分數（ledger 子套件，golang-migrate 管理結構）
//   - Redis：排行榜快取
//   - NATS JetStream：遊戲事件（開始、每題結果、結束、重置）
//
// # 使用範例
//
//	hub := internal.NewWebSocketHub(logger, internal.RateLimit{Burst: 20, Refill: 5})
//	manager := internal.NewManager(hub, logger, internal.WithLedger(scores))
//	hub.Attach(manager)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", internal.NewHandler(manager, logger).Routes())
//	mux.HandleFunc("GET /ws", hub.ServeWS)
//
// # 已知限制
//
// 狀態只存在單一進程的記憶體中：重啟後房間、連線與進行中的遊戲都會消失，
// 只有寫入計分庫的分數會保留。
package internal
