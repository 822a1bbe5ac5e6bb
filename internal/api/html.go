package api

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>People Counter Dashboard</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <script src="https://cdn.plot.ly/plotly-2.27.0.min.js"></script>
    <style>
        body { font-family: sans-serif; margin: 0; background: #f4f6f8; color: #222; }
        .header { display: flex; justify-content: space-between; align-items: center;
                  padding: 16px 24px; background: #263238; color: #fff; }
        .title { font-size: 20px; font-weight: bold; }
        .badge { font-size: 12px; padding: 4px 8px; border-radius: 4px; background: #546e7a; }
        .badge.ok { background: #2e7d32; }
        .badge.error { background: #c62828; }
        .stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr));
                 gap: 12px; padding: 16px 24px; }
        .card { background: #fff; border-radius: 6px; padding: 12px; box-shadow: 0 1px 3px rgba(0,0,0,.15); }
        .card .label { font-size: 12px; color: #607d8b; }
        .card .value { font-size: 28px; font-weight: bold; margin-top: 4px; }
        .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr));
                  gap: 12px; padding: 0 24px 24px; }
        .chart { background: #fff; border-radius: 6px; min-height: 500px; }
        .footer-note { font-size: 12px; color: #607d8b; padding: 0 24px 16px; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">People Counter Dashboard</div>
        <span class="badge" id="status-badge">Waiting for data...</span>
    </div>

    <div class="stats">
        <div class="card"><div class="label">Total Unique People</div><div class="value" id="total">-</div></div>
        <div class="card"><div class="label">This Minute</div><div class="value" id="minute">-</div></div>
        <div class="card"><div class="label">This Hour</div><div class="value" id="hour">-</div></div>
        <div class="card"><div class="label">Today</div><div class="value" id="day">-</div></div>
        <div class="card"><div class="label">Records</div><div class="value" id="records">-</div></div>
    </div>

    <div class="charts">
        <div class="chart" id="chart-time_series"></div>
        <div class="chart" id="chart-hourly_pattern"></div>
        <div class="chart" id="chart-daily_summary"></div>
        <div class="chart" id="chart-heatmap"></div>
    </div>
    <p class="footer-note" id="range-note"></p>

    <script>
        const charts = ['time_series', 'hourly_pattern', 'daily_summary', 'heatmap'];
        const refreshMs = 30000;

        function setBadge(text, cls) {
            const badge = document.getElementById('status-badge');
            badge.textContent = text;
            badge.className = 'badge ' + cls;
        }

        async function loadStats() {
            const resp = await fetch('/api/data');
            const data = await resp.json();
            if (!resp.ok) {
                setBadge(data.error || 'No data', 'error');
                return;
            }
            document.getElementById('total').textContent = data.total_unique_people;
            document.getElementById('minute').textContent = data.current_minute_people;
            document.getElementById('hour').textContent = data.current_hour_people;
            document.getElementById('day').textContent = data.current_day_people;
            document.getElementById('records').textContent = data.total_records;
            document.getElementById('range-note').textContent =
                'Data from ' + data.data_range.start + ' to ' + data.data_range.end;
            setBadge('Last update ' + data.last_update, 'ok');
        }

        async function loadChart(name) {
            const el = document.getElementById('chart-' + name);
            const resp = await fetch('/api/chart/' + name);
            const fig = await resp.json();
            if (!resp.ok) {
                el.innerHTML = '<p style="padding:16px">' + (fig.error || 'Chart unavailable') + '</p>';
                return;
            }
            Plotly.react(el, fig.data, fig.layout, {responsive: true});
        }

        async function refresh() {
            try {
                await loadStats();
                await Promise.all(charts.map(loadChart));
            } catch (err) {
                setBadge('Connection error', 'error');
            }
        }

        refresh();
        setInterval(refresh, refreshMs);
    </script>
</body>
</html>
`
