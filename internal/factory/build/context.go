// Package build materializes the ephemeral build context (Dockerfile,
// package.json, template server, user payload) and drives the image
// build and container launch pipeline.
package build

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/carboon/gameplatform/internal/factory/upload"
)

const (
	nodeBaseImage = "node:18-alpine"
	containerPort = 8080
)

// packageJSON renders the pinned-dependency manifest. JS mode adds a
// socket library alongside the HTML mode's baseline.
func packageJSON(jsMode bool) []byte {
	deps := map[string]string{
		"express": "^4.18.2",
		"axios":   "^1.6.0",
		"dotenv":  "^16.3.1",
	}
	if jsMode {
		deps["socket.io"] = "^4.7.2"
	}
	manifest := map[string]any{
		"name":    "game-server",
		"version": "1.0.0",
		"main":    "server.js",
		"scripts": map[string]string{"start": "node server.js"},
		"dependencies": deps,
	}
	out, _ := json.MarshalIndent(manifest, "", "  ")
	return out
}

// dockerfile renders the build recipe for one mode. The COPY lines
// must match what Materialize actually writes into the context: JS
// mode ships user_game.js, HTML mode ships the game/ directory, and a
// COPY of an absent path fails the build.
func dockerfile(jsMode bool, roomName string) string {
	payloadCopy := "COPY game ./game"
	if jsMode {
		payloadCopy = "COPY user_game.js ./user_game.js"
	}
	return fmt.Sprintf(`FROM %s
WORKDIR /usr/src/app
COPY package.json ./
RUN npm install
COPY server.js ./
%s
EXPOSE %d
ENV NODE_ENV=production
ENV ROOM_NAME="%s"
CMD ["node", "server.js"]
`, nodeBaseImage, payloadCopy, containerPort, roomName)
}

// serverTemplate renders the template loop: serve the game, accept
// playerAction/click, send periodic heartbeats to the matchmaker.
// jsMode wires in the user's game logic module; html mode serves the
// static game directory instead.
func serverTemplate(jsMode bool, roomName, matchmakerURL string) string {
	if jsMode {
		return fmt.Sprintf(`const express = require('express');
const http = require('http');
const socketIo = require('socket.io');
const axios = require('axios');
require('dotenv').config();

const app = express();
const server = http.createServer(app);
const io = socketIo(server, { cors: { origin: '*', methods: ['GET', 'POST'] } });

const PORT = process.env.PORT || %d;
const EXTERNAL_PORT = process.env.EXTERNAL_PORT || PORT;
const MATCHMAKER_URL = process.env.MATCHMAKER_URL || '%s';
const ROOM_NAME = process.env.ROOM_NAME || '%s';
const MAX_PLAYERS = parseInt(process.env.MAX_PLAYERS) || 20;
const HEARTBEAT_INTERVAL = parseInt(process.env.HEARTBEAT_INTERVAL) || 25000;
const RETRY_INTERVAL = parseInt(process.env.RETRY_INTERVAL) || 5000;

let userGameLogic;
try {
    userGameLogic = require('./user_game.js');
} catch (err) {
    console.error('failed to load user game code:', err);
    userGameLogic = {
        initGame: () => ({ clickCount: 0 }),
        handlePlayerAction: (gameState, action) => {
            if (action === 'click') gameState.clickCount = (gameState.clickCount || 0) + 1;
            return gameState;
        },
    };
}

let gameState = userGameLogic.initGame ? userGameLogic.initGame() : { clickCount: 0 };
let connectedPlayers = 0;

app.get('/', (req, res) => {
    res.send('<!DOCTYPE html><html><head><title>' + ROOM_NAME + '</title></head><body><h1>' + ROOM_NAME + '</h1></body></html>');
});

app.get('/health', (req, res) => {
    res.json({ status: 'healthy', room: ROOM_NAME, port: PORT, external_port: EXTERNAL_PORT });
});

io.on('connection', (socket) => {
    connectedPlayers++;
    socket.emit('gameState', gameState);

    socket.on('playerAction', (data) => {
        try {
            if (userGameLogic.handlePlayerAction) {
                gameState = userGameLogic.handlePlayerAction(gameState, data.action, data);
            }
            io.emit('gameState', gameState);
        } catch (err) {
            socket.emit('error', { message: 'failed to process action' });
        }
    });

    socket.on('disconnect', () => {
        connectedPlayers--;
    });
});

server.listen(PORT, () => {
    sendHeartbeat();
});

async function sendHeartbeat() {
    try {
        await axios.post(MATCHMAKER_URL + '/register', {
            ip: 'localhost',
            port: EXTERNAL_PORT,
            name: ROOM_NAME,
            max_players: MAX_PLAYERS,
            current_players: connectedPlayers,
            metadata: { created_by: 'game_server_factory', game_type: 'custom', internal_port: PORT, external_port: EXTERNAL_PORT },
        });
    } catch (err) {
        // retried below regardless of outcome
    }
    setTimeout(sendHeartbeat, HEARTBEAT_INTERVAL);
}

process.on('SIGTERM', () => {
    server.close(() => process.exit(0));
});
`, containerPort, matchmakerURL, roomName)
	}

	return fmt.Sprintf(`const express = require('express');
const http = require('http');
const path = require('path');
const axios = require('axios');
require('dotenv').config();

const app = express();
const server = http.createServer(app);

const PORT = process.env.PORT || %d;
const EXTERNAL_PORT = process.env.EXTERNAL_PORT || PORT;
const MATCHMAKER_URL = process.env.MATCHMAKER_URL || '%s';
const ROOM_NAME = process.env.ROOM_NAME || '%s';
const MAX_PLAYERS = parseInt(process.env.MAX_PLAYERS) || 20;
const HEARTBEAT_INTERVAL = parseInt(process.env.HEARTBEAT_INTERVAL) || 25000;
const RETRY_INTERVAL = parseInt(process.env.RETRY_INTERVAL) || 5000;

app.use(express.static(path.join(__dirname, 'game')));

app.get('/', (req, res) => {
    res.sendFile(path.join(__dirname, 'game', 'index.html'));
});

app.get('/health', (req, res) => {
    res.json({ status: 'healthy', room: ROOM_NAME, port: PORT, external_port: EXTERNAL_PORT });
});

server.listen(PORT, () => {
    sendHeartbeat();
});

async function sendHeartbeat() {
    try {
        await axios.post(MATCHMAKER_URL + '/register', {
            ip: 'localhost',
            port: EXTERNAL_PORT,
            name: ROOM_NAME,
            max_players: MAX_PLAYERS,
            current_players: 0,
            metadata: { created_by: 'game_server_factory', game_type: 'html', internal_port: PORT, external_port: EXTERNAL_PORT },
        });
    } catch (err) {
        // retried below regardless of outcome
    }
    setTimeout(sendHeartbeat, HEARTBEAT_INTERVAL);
}

process.on('SIGTERM', () => {
    server.close(() => process.exit(0));
});
`, containerPort, matchmakerURL, roomName)
}

var exportsRe = regexp.MustCompile(`module\.exports`)

// prepareUserCode wraps bare user code in a default-export shim if it
// doesn't already assign module.exports.
func prepareUserCode(userCode string) string {
	if exportsRe.MatchString(userCode) {
		return userCode
	}
	return fmt.Sprintf(`%s

module.exports = {
    initGame: typeof initGame !== 'undefined' ? initGame : () => ({ clickCount: 0 }),
    handlePlayerAction: typeof handlePlayerAction !== 'undefined' ? handlePlayerAction :
        (gameState, action) => {
            if (action === 'click') gameState.clickCount = (gameState.clickCount || 0) + 1;
            return gameState;
        },
};
`, userCode)
}

// Payload is everything the build context needs from the upload
// pipeline: the kind of upload and its raw content(s).
type Payload struct {
	Kind       upload.Kind
	JSCode     string            // Kind == KindJS
	IndexHTML  string            // Kind == KindHTML or KindZip
	OtherFiles map[string][]byte // auxiliary files preserved verbatim, keyed by relative path under game/
}

// Context is a materialized, in-memory tar build context ready to hand
// to the runtime's BuildImage.
type Context struct {
	Tar []byte
}

// Materialize assembles the full build context entirely in memory;
// the tar buffer itself is the ephemeral directory.
func Materialize(payload Payload, roomName, matchmakerURL string) (Context, error) {
	jsMode := payload.Kind == upload.KindJS

	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)

	files := map[string][]byte{
		"package.json": packageJSON(jsMode),
		"Dockerfile":   []byte(dockerfile(jsMode, roomName)),
		"server.js":    []byte(serverTemplate(jsMode, roomName, matchmakerURL)),
	}

	if jsMode {
		files["user_game.js"] = []byte(prepareUserCode(payload.JSCode))
	} else {
		files["game/index.html"] = []byte(payload.IndexHTML)
		for name, content := range payload.OtherFiles {
			files["game/"+strings.TrimPrefix(name, "/")] = content
		}
	}

	for name, content := range files {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return Context{}, fmt.Errorf("write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			return Context{}, fmt.Errorf("write tar content for %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return Context{}, fmt.Errorf("close tar writer: %w", err)
	}

	return Context{Tar: buf.Bytes()}, nil
}
