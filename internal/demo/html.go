package demo

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Smart Parking Space Detection</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/parking.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Smart Parking Space Detection</div>
            <span class="badge">Green: free / Red: occupied</span>
        </div>

        <div class="tabs">
            <button class="active" data-tab="image">Image Analysis</button>
            <button data-tab="video">Video Analysis</button>
        </div>

        <div class="grid tab" id="tab-image">
            <div class="panel">
                <h2>Upload Parking Lot Image</h2>
                <form data-endpoint="/api/analyze/image">
                    <input type="file" name="image" accept="image/*">
                    <button type="submit">Analyze Image</button>
                </form>
                <img class="stream output" alt="Analysis Results">
            </div>
            <div class="panel">
                <h2>Detection Results</h2>
                <div class="summary"></div>
            </div>
        </div>

        <div class="grid tab" id="tab-video" style="display:none;">
            <div class="panel">
                <h2>Upload Parking Lot Video</h2>
                <form data-endpoint="/api/analyze/video">
                    <input type="file" name="video" accept="video/*">
                    <button type="submit">Analyze Video</button>
                </form>
                <img class="stream output" alt="Analysis Results (First Frame)">
            </div>
            <div class="panel">
                <h2>Detection Results</h2>
                <div class="summary"></div>
            </div>
        </div>
    </div>

    <script>
        document.querySelectorAll('.tabs button').forEach(btn => {
            btn.addEventListener('click', () => {
                document.querySelectorAll('.tabs button').forEach(b => b.classList.remove('active'));
                btn.classList.add('active');
                document.querySelectorAll('.tab').forEach(t => t.style.display = 'none');
                document.getElementById('tab-' + btn.dataset.tab).style.display = '';
            });
        });

        document.querySelectorAll('form[data-endpoint]').forEach(form => {
            form.addEventListener('submit', async e => {
                e.preventDefault();
                const tab = form.closest('.tab');
                const summary = tab.querySelector('.summary');
                const output = tab.querySelector('.output');
                summary.textContent = 'Analyzing...';
                try {
                    const res = await fetch(form.dataset.endpoint, { method: 'POST', body: new FormData(form) });
                    const body = await res.json();
                    summary.textContent = body.summary || body.error || '';
                    if (body.image) {
                        output.src = body.image;
                    } else {
                        output.removeAttribute('src');
                    }
                } catch (err) {
                    summary.textContent = 'Request failed: ' + err;
                }
            });
        });
    </script>
</body>
</html>
`
