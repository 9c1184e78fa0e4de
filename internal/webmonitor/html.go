package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Parking Space Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/parking.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Parking Space Monitor</div>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Live Feed</h2>
                <img class="stream" src="/video_feed" alt="Annotated parking lot stream">
            </div>

            <div>
                <div class="panel">
                    <h2>Occupancy</h2>
                    <div class="counts">
                        <div class="count free">
                            <div class="value" id="free-count">-</div>
                            <div class="label">Free</div>
                        </div>
                        <div class="count occupied">
                            <div class="value" id="occupied-count">-</div>
                            <div class="label">Occupied</div>
                        </div>
                    </div>
                    <div class="bar"><div id="occupancy-bar"></div></div>
                    <p id="occupancy-text" class="badge" style="display:inline-block;margin-top:10px;">Total: - | Rate: -</p>
                </div>

                <div class="panel" style="margin-top:16px;">
                    <h2>Recent Changes</h2>
                    <ul class="history" id="history"></ul>
                </div>
            </div>
        </div>
    </div>

    <script>
        const badge = document.getElementById('status-badge');

        function render(ev) {
            document.getElementById('free-count').textContent = ev.free;
            document.getElementById('occupied-count').textContent = ev.occupied;
            document.getElementById('occupancy-bar').style.width = ev.occupancy_rate.toFixed(1) + '%';
            document.getElementById('occupancy-text').textContent =
                'Total: ' + ev.total + ' | Rate: ' + ev.occupancy_rate.toFixed(1) + '%';
            badge.textContent = 'Live - frame ' + ev.frame_number;
            badge.classList.add('live');
        }

        function renderHistory(history) {
            const list = document.getElementById('history');
            list.innerHTML = '';
            (history || []).forEach(ev => {
                const li = document.createElement('li');
                const t = new Date(ev.timestamp).toLocaleTimeString();
                li.textContent = t + '  free ' + ev.free + ' / occupied ' + ev.occupied;
                list.appendChild(li);
            });
        }

        function connect() {
            const source = new EventSource('/api/occupancy/stream');
            source.onmessage = e => render(JSON.parse(e.data));
            source.onerror = () => {
                badge.textContent = 'Reconnecting...';
                badge.classList.remove('live');
                source.close();
                setTimeout(connect, 2000);
            };
        }

        async function pollStatus() {
            try {
                const res = await fetch('/api/status');
                const status = await res.json();
                renderHistory(status.history);
            } catch (e) {}
        }

        connect();
        pollStatus();
        setInterval(pollStatus, 5000);
    </script>
</body>
</html>
`
