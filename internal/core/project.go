package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const projectDirName = ".frayline"

// Project represents a frayline project.
type Project struct {
	Root       string
	DBPath     string
	EventsPath string
	ConfigPath string
	LogPath    string
}

func newProject(root string) Project {
	dir := filepath.Join(root, projectDirName)
	return Project{
		Root:       root,
		DBPath:     filepath.Join(dir, "frayline.db"),
		EventsPath: filepath.Join(dir, "events.jsonl"),
		ConfigPath: filepath.Join(dir, configFileName),
		LogPath:    filepath.Join(dir, "frayline.log"),
	}
}

// DiscoverProject walks up from startDir to find a .frayline directory.
func DiscoverProject(startDir string) (Project, error) {
	current := startDir
	if current == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Project{}, err
		}
		current = cwd
	}
	current, err := filepath.Abs(current)
	if err != nil {
		return Project{}, err
	}

	for {
		info, err := os.Stat(filepath.Join(current, projectDirName))
		if err == nil && info.IsDir() {
			project := newProject(current)
			if _, err := os.Stat(project.DBPath); err != nil {
				return Project{}, fmt.Errorf("frayline database not found. Run 'frayline init' first")
			}
			return project, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return Project{}, fmt.Errorf("not initialized. Run 'frayline init' first")
		}
		current = parent
	}
}

// InitProject initializes a new frayline project at dir.
func InitProject(dir string, force bool) (Project, error) {
	root := dir
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Project{}, err
		}
		root = cwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return Project{}, err
	}

	project := newProject(root)
	projectDir := filepath.Dir(project.DBPath)

	if info, err := os.Stat(projectDir); err == nil && info.IsDir() && !force {
		return Project{}, fmt.Errorf("already initialized. Use --force to reinitialize")
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return Project{}, err
	}
	EnsureGitignore(projectDir)

	if force {
		for _, path := range []string{project.DBPath, project.EventsPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return Project{}, err
			}
		}
	}
	if _, err := os.Stat(project.ConfigPath); errors.Is(err, os.ErrNotExist) {
		if err := WriteConfig(project.ConfigPath, DefaultConfig()); err != nil {
			return Project{}, err
		}
	}

	return project, nil
}

// EnsureGitignore ensures .frayline/.gitignore ignores sqlite files and logs.
func EnsureGitignore(dir string) {
	gitignore := filepath.Join(dir, ".gitignore")
	entries := []string{"*.db", "*.db-wal", "*.db-shm", "*.log"}

	data, err := os.ReadFile(gitignore)
	if err != nil {
		_ = os.WriteFile(gitignore, []byte(strings.Join(entries, "\n")+"\n"), 0o644)
		return
	}
	content := string(data)

	lines := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		lines[line] = true
	}

	var missing []string
	for _, entry := range entries {
		if !lines[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return
	}
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	_ = os.WriteFile(gitignore, []byte(content), 0o644)
}
