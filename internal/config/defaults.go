package config

// DefaultExcludePatterns is the deny-list layered on top of version-control
// ignore rules. Patterns use .gitignore syntax; a trailing slash restricts a
// pattern to directories.
var DefaultExcludePatterns = []string{
	// version control and build output
	".git/", ".hg/", ".svn/",
	"target/", "build/", "dist/", "pkg/", "node_modules/",
	// python
	"__pycache__/", "*.pyc", "*.pyo", "*.pyd",
	".env", ".venv", "venv/", "env/",
	"requirements.txt",
	// javascript lockfiles
	"package-lock.json", "yarn.lock",
	// operating system files
	".DS_Store", "Thumbs.db",
	// logs and temporary files
	"*.log",
	"*.tmp", "*.swp", "*.swo",
	// compiled objects and binaries
	"*.o", "*.so", "*.a", "*.dylib",
	"*.exe", "*.dll", "*.lib", "*.exp", "*.obj", "*.def",
	// archives
	"*.zip", "*.tar", "*.gz", "*.rar",
	// images and media
	"*.ico", "*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp", "*.tiff", "*.svg",
	"*.mp3", "*.mp4", "*.avi",
	// databases
	"*.db", "*.sqlite", "*.sqlite3",
	// editors
	".idea/", ".vscode/", "*.sublime-project", "*.sublime-workspace",
}
