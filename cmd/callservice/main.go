package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/torteous44/ariaagent/internal/config"
	"github.com/torteous44/ariaagent/internal/orchestrator"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] error loading .env file: %v", err)
	}

	fmt.Println("Aria voice agent starting...")

	cfg := config.Load()
	manager := orchestrator.NewSessionManager(cfg)

	http.HandleFunc("/api/session/init", manager.InitializeSession)
	http.HandleFunc("/api/session/status", manager.GetSessionStatus)
	http.HandleFunc("/api/session/close", manager.CloseSession)
	http.HandleFunc("/ws/session/", manager.HandleWebSocket)

	http.HandleFunc("/voices", voicesHandler(cfg))

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "ariaagent"}`))
	})

	http.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexHTML))
	})

	log.Printf("[INFO] server starting on http://localhost:%s", cfg.Port)
	log.Printf("[INFO] websocket endpoint: ws://localhost:%s/ws/session/{session_id}", cfg.Port)
	log.Printf("[INFO] llm provider: %s", cfg.LLMProvider)

	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		log.Fatalf("[ERROR] server failed to start: %v", err)
	}
}

// voicesHandler lists the TTS voice a session will use; this
// deployment supports one configured voice rather than a catalog
// lookup against the vendor.
func voicesHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		fmt.Fprintf(w, `{"voices":[{"voice_id":%q}]}`, cfg.TTSVoiceID)
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Aria Voice Agent</title>
</head>
<body>
    <h1>Aria Voice Agent API</h1>
    <h2>Available Endpoints:</h2>
    <ul>
        <li><strong>POST /api/session/init</strong> - Initialize a new voice session</li>
        <li><strong>GET /api/session/status?session_id=xxx</strong> - Get session status</li>
        <li><strong>DELETE /api/session/close?session_id=xxx</strong> - Close session</li>
        <li><strong>WebSocket /ws/session/{session_id}</strong> - Audio streaming</li>
        <li><strong>GET /voices</strong> - List available TTS voices</li>
        <li><strong>GET /health</strong> - Health check</li>
    </ul>

    <h2>Example Usage:</h2>
    <pre>
fetch('/api/session/init', { method: 'POST' })
  .then(r => r.json())
  .then(data => {
    console.log('Session ID:', data.session_id);
    console.log('WebSocket URL:', data.websocket_url);
  });
    </pre>
</body>
</html>
`
