// Package main 提供了一個即時問答中繼服務器（quiz relay server）。
//
// 實現了一個支援單一主持人、多名玩家的即時問答服務，包含以下核心功能：
//
// 房間生命週期
//
// 提供完整的房間建立、重連與終止流程：
//   - 房間代碼生成與登記
//   - 主持人斷線寬限期與重連
//   - 伺服器重啟後的狀態還原（restore_room）
//   - 建立後兩小時的存活上限、主持人斷線寬限期逾時、主持人終止三種清理路徑
//
// # WebSocket 通訊
//
// 實現了即時雙向通訊機制：
//   - 支援心跳檢測（Ping/Pong）
//   - 主持人對玩家的廣播、玩家對主持人的單播
//   - 依連線角色（host/player）分流的訊息分派
//
// 伺服器權威時間
//
// 題目開始時間與經過時間一律由伺服器時鐘計算，從不採信客戶端回報的時間戳，
// 避免用戶端時鐘偏移或竄改影響計分。
//
// 併發安全設計
//
// 採用了多層次的併發控制策略：
//   - 每個房間自己的讀寫鎖保護玩家與計時狀態
//   - 登記表的讀寫鎖與房間狀態鎖分離，互不阻塞
//   - 以結構相等比對而非僅比對房間代碼，避免計時器與房間替換的競態
//   - Channel 通訊搭配非阻塞傳送，過慢的連線直接斷線而非拖慢房間
//
// 使用範例
//
// 啟動服務器：
//
//	registry := internal.NewRegistry(logger)
//	dispatcher := internal.NewDispatcher(registry, logger)
//	hub := internal.NewHub(dispatcher.Dispatch, dispatcher.HandleDisconnect, logger)
//
//	http.HandleFunc("/ws", hub.ServeWS)
//	http.HandleFunc("/health", internal.HandleHealth)
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// 架構設計
//
// 系統採用分層架構設計：
//   - 連線層（Hub/Connection）：WebSocket upgrade、心跳、讀寫 pump
//   - 分派層（Dispatcher）：解碼訊框、授權、路由到各動詞處理函式
//   - 房間層（Room/Registry）：房間與玩家狀態、計時器、生命週期
//   - 輸入清理（sanitize.go）：名稱、房間代碼、分數、session id 的防禦性正規化
//
// 每層都有明確的職責邊界，透過函式簽章交互，便於獨立測試。
//
// 配置選項
//
// 支援多種運行時配置：
//   - PORT 環境變數或 -port 旗標：服務監聽端口（預設 8080）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//
// 安全考量
//
// 實施了多項安全措施：
//   - WebSocket 升級不檢查 Origin，接受任何來源
//   - 訊息大小與傳送佇列上限
//   - 每連線速率限制，持續超標即強制斷線
//   - 所有使用者提供的字串（名稱、房間代碼、session id）皆經過清理
package main
