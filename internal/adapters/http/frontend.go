package http

import (
	"net/http"
)

// frontendHTML is the upload preview page. Features are drawn into an SVG
// in the target coordinate system; no map library is loaded.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>geopreview</title>
    <style>
        :root {
            --primary: #2563eb;
            --error: #dc2626;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --radius: 8px;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: var(--bg); color: var(--text); line-height: 1.5; }
        .container { max-width: 960px; margin: 0 auto; padding: 1rem; }
        header { padding: 1.25rem 0; border-bottom: 1px solid var(--border); margin-bottom: 1rem; }
        header h1 { font-size: 1.4rem; color: var(--primary); }
        header p { color: var(--muted); font-size: 0.875rem; }
        .card { background: var(--card); border-radius: var(--radius); padding: 1rem;
                box-shadow: 0 1px 3px rgba(0,0,0,0.1); margin-bottom: 1rem; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 0.75rem; }
        label { display: block; font-size: 0.8rem; color: var(--muted); margin-bottom: 0.25rem; }
        input, select { width: 100%; padding: 0.5rem; border: 1px solid var(--border); border-radius: var(--radius); }
        button { margin-top: 0.75rem; padding: 0.6rem 1rem; border: none; border-radius: var(--radius);
                 background: var(--primary); color: #fff; cursor: pointer; }
        button:disabled { background: var(--muted); }
        #map { width: 100%; height: 480px; background: #f1f5f9; border-radius: var(--radius); }
        .stats span { display: inline-block; margin-right: 1rem; font-size: 0.875rem; }
        .error { color: var(--error); }
        ul.warnings { margin: 0.5rem 0 0 1rem; font-size: 0.8rem; color: var(--muted); }
    </style>
</head>
<body>
<div class="container">
    <header>
        <h1>geopreview</h1>
        <p>Shapefile (with .dbf/.shx/.prj), DXF, GeoJSON, CSV, GeoPackage, OSM XML</p>
    </header>

    <form id="form" class="card">
        <div class="grid">
            <div>
                <label for="files">Files</label>
                <input type="file" id="files" name="files" multiple required>
            </div>
            <div>
                <label for="source">Source system</label>
                <select id="source" name="source"><option value="">detect</option></select>
            </div>
            <div>
                <label for="target">Target system</label>
                <select id="target" name="target"></select>
            </div>
            <div>
                <label for="max_features">Max features</label>
                <input type="number" id="max_features" name="max_features" min="1" placeholder="default">
            </div>
            <div>
                <label for="smart_sampling">Sampling</label>
                <select id="smart_sampling" name="smart_sampling">
                    <option value="true">grid</option>
                    <option value="false">first N</option>
                </select>
            </div>
        </div>
        <button type="submit" id="submit">Preview</button>
    </form>

    <div class="card">
        <div id="stats" class="stats"></div>
        <div id="message"></div>
        <svg id="map" xmlns="http://www.w3.org/2000/svg"></svg>
    </div>
</div>

<script>
(function() {
    'use strict';

    const form = document.getElementById('form');
    const svg = document.getElementById('map');
    const stats = document.getElementById('stats');
    const message = document.getElementById('message');

    fetch('/api/v1/coordinate-systems')
        .then(function(r) { return r.json(); })
        .then(function(data) {
            data.coordinate_systems.forEach(function(cs) {
                ['source', 'target'].forEach(function(id) {
                    const opt = document.createElement('option');
                    opt.value = cs.code;
                    opt.textContent = cs.code + ' ' + cs.name;
                    document.getElementById(id).appendChild(opt);
                });
            });
            document.getElementById('target').value = 'EPSG:4326';
        });

    form.addEventListener('submit', function(e) {
        e.preventDefault();
        const body = new FormData();
        Array.from(document.getElementById('files').files).forEach(function(f) {
            body.append('files', f, f.name);
        });
        ['source', 'target', 'max_features', 'smart_sampling'].forEach(function(name) {
            const v = document.getElementById(name).value;
            if (v) body.append(name, v);
        });

        document.getElementById('submit').disabled = true;
        message.textContent = '';
        fetch('/api/v1/preview', { method: 'POST', body: body })
            .then(function(r) { return r.json().then(function(d) { return { ok: r.ok, data: d }; }); })
            .then(function(res) {
                if (!res.ok) {
                    showError(res.data.message || res.data.error);
                    return;
                }
                render(res.data);
            })
            .catch(function(err) { showError(err.message); })
            .finally(function() { document.getElementById('submit').disabled = false; });
    });

    function showError(text) {
        message.innerHTML = '<p class="error">' + escapeHtml(text) + '</p>';
    }

    function render(p) {
        stats.innerHTML =
            '<span>' + p.visibleCount + ' of ' + p.totalCount + ' features</span>' +
            '<span>' + escapeHtml(p.sourceSystem) + ' &rarr; ' + escapeHtml(p.targetSystem) + '</span>' +
            (p.detection ? '<span>' + escapeHtml(p.detection.strategy) + ' ' +
                Math.round(p.detection.confidence * 100) + '%</span>' : '') +
            '<span>' + p.durationMs + ' ms</span>';
        if (p.warnings && p.warnings.count > 0) {
            message.innerHTML = '<ul class="warnings">' + (p.warnings.messages || []).map(function(m) {
                return '<li>' + escapeHtml(m) + '</li>';
            }).join('') + '</ul>';
        }

        svg.innerHTML = '';
        if (!p.bounds) return;
        const b = p.bounds;
        const w = (b.maxX - b.minX) || 1, h = (b.maxY - b.minY) || 1;
        svg.setAttribute('viewBox', (b.minX - w * 0.02) + ' ' + (-b.maxY - h * 0.02) + ' ' + (w * 1.04) + ' ' + (h * 1.04));
        const stroke = Math.max(w, h) / 400;

        draw(p.polygons, function(c) { return rings(c); }, 'rgba(37,99,235,0.2)', '#2563eb', stroke);
        draw(p.lines, function(c) { return line(c); }, 'none', '#16a34a', stroke);
        (p.points.features || []).forEach(function(f) {
            eachPoint(f.geometry, function(c) {
                const el = document.createElementNS('http://www.w3.org/2000/svg', 'circle');
                el.setAttribute('cx', c[0]);
                el.setAttribute('cy', -c[1]);
                el.setAttribute('r', stroke * 2);
                el.setAttribute('fill', '#dc2626');
                svg.appendChild(el);
            });
        });
    }

    function draw(fc, toPath, fill, color, stroke) {
        (fc.features || []).forEach(function(f) {
            const el = document.createElementNS('http://www.w3.org/2000/svg', 'path');
            el.setAttribute('d', toPath(f.geometry));
            el.setAttribute('fill', fill);
            el.setAttribute('fill-rule', 'evenodd');
            el.setAttribute('stroke', color);
            el.setAttribute('stroke-width', stroke);
            svg.appendChild(el);
        });
    }

    function line(g) {
        const parts = g.type === 'MultiLineString' ? g.coordinates : [g.coordinates];
        return parts.map(function(pts) { return path(pts, false); }).join(' ');
    }

    function rings(g) {
        const polys = g.type === 'MultiPolygon' ? g.coordinates : [g.coordinates];
        return polys.map(function(poly) {
            return poly.map(function(r) { return path(r, true); }).join(' ');
        }).join(' ');
    }

    function path(pts, closed) {
        return pts.map(function(c, i) { return (i ? 'L' : 'M') + c[0] + ' ' + (-c[1]); }).join(' ') + (closed ? ' Z' : '');
    }

    function eachPoint(g, fn) {
        if (g.type === 'Point') fn(g.coordinates);
        else if (g.type === 'MultiPoint') g.coordinates.forEach(fn);
    }

    function escapeHtml(str) {
        if (str === undefined || str === null) return '';
        return String(str)
            .replace(/&/g, '&amp;')
            .replace(/</g, '&lt;')
            .replace(/>/g, '&gt;')
            .replace(/"/g, '&quot;')
            .replace(/'/g, '&#39;');
    }
})();
</script>
</body>
</html>`

// handleFrontend serves the upload preview page.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
