package script

import "regexp"

var (
	classpathImport = regexp.MustCompile(`<import(\s*\n*\s+)+resource(\s*\n*\s+)*=(\s*\n*\s+)*"classpath:(/)?([^"]+)"(\s*\n*\s+)*(/)?>`)
	storePathImport = regexp.MustCompile(`<import(\s*\n*\s+)+resource(\s*\n*\s+)*=(\s*\n*\s+)*"([^"]+)"(\s*\n*\s+)*(/)?>`)
)

// RewriteImports replaces <import resource="..."/> directives with calls to
// the importScript function every execution scope provides. Classpath
// resources become absolute classpath imports; everything else is imported
// relative to the store path of the importing script.
func RewriteImports(source string) string {
	source = classpathImport.ReplaceAllString(source, `importScript("classpath", "/${5}", true);`)
	return storePathImport.ReplaceAllString(source, `importScript("storePath", "${4}", true);`)
}
